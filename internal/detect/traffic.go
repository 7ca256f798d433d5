package detect

import (
	"fmt"
	"strings"

	"gatewaylens/internal/config"
	"gatewaylens/internal/model"
)

func urlPatterns(c config.DetectorConfig) detectFunc {
	return func(idx *Index) []model.Anomaly {
		if len(idx.ByURL.Keys) == 0 {
			return nil
		}
		mean := float64(idx.Len()) / float64(len(idx.ByURL.Keys))
		threshold := mean * c.Multiplier
		var out []model.Anomaly
		for _, url := range idx.ByURL.Keys {
			pos := idx.ByURL.Positions[url]
			count := float64(len(pos))
			if count <= threshold {
				continue
			}
			ips := map[string]struct{}{}
			categories := []string{}
			seenCat := map[string]struct{}{}
			for _, p := range pos {
				e := &idx.Entries[p]
				if e.ClientIP != "" {
					ips[e.ClientIP] = struct{}{}
				}
				if _, ok := seenCat[e.URLCategory]; e.URLCategory != "" && !ok {
					seenCat[e.URLCategory] = struct{}{}
					categories = append(categories, e.URLCategory)
				}
			}
			conf := score(count/threshold*100, c)
			out = append(out, finding{
				typ:        model.AnomalyURLPatterns,
				url:        url,
				at:         idx.Last(pos),
				confidence: conf,
				explanation: fmt.Sprintf("Unusual access pattern for URL: %s. This URL was accessed %d times by %d unique IPs, which is %.1fx the average access rate.",
					url, len(pos), len(ips), count/mean),
				details: map[string]any{
					"accessCount":   len(pos),
					"uniqueIPs":     len(ips),
					"categories":    categories,
					"averageAccess": mean,
					"ratio":         count / mean,
				},
				related: idx.Related(pos),
			}.anomaly())
		}
		return out
	}
}

func hourlyTraffic(c config.DetectorConfig) detectFunc {
	return func(idx *Index) []model.Anomaly {
		mean := float64(idx.Len()) / 24
		threshold := mean * c.Multiplier
		var out []model.Anomaly
		for hour, pos := range idx.ByHour {
			count := float64(len(pos))
			if len(pos) == 0 || count <= threshold {
				continue
			}
			out = append(out, finding{
				typ:        model.AnomalyTimePatterns,
				subject:    fmt.Sprintf("hour:%d", hour),
				at:         idx.Last(pos),
				confidence: score(count/threshold*100, c),
				explanation: fmt.Sprintf("Unusual traffic spike at %d:00. This hour had %d requests, which is %.1fx the average hourly traffic. Events occurred between %s and %s.",
					hour, len(pos), count/mean, localTime(idx.First(pos), idx.Location), localTime(idx.Last(pos), idx.Location)),
				details: map[string]any{
					"hour":          hour,
					"requestCount":  len(pos),
					"averageHourly": mean,
					"ratio":         count / mean,
				},
				related: idx.Related(pos),
			}.anomaly())
		}
		return out
	}
}

func minuteTraffic(c config.DetectorConfig) detectFunc {
	return func(idx *Index) []model.Anomaly {
		mean := float64(idx.Len()) / 60
		threshold := mean * c.Multiplier
		var out []model.Anomaly
		for minute, pos := range idx.ByMinute {
			count := float64(len(pos))
			if len(pos) == 0 || count <= threshold {
				continue
			}
			out = append(out, finding{
				typ:        model.AnomalyTimePatterns,
				subject:    fmt.Sprintf("minute:%d", minute),
				at:         idx.Last(pos),
				confidence: score(count/threshold*100, c),
				explanation: fmt.Sprintf("Unusual traffic spike at minute %d. This minute had %d requests, which is %.1fx the average minute traffic. Events occurred between %s and %s.",
					minute, len(pos), count/mean, localTime(idx.First(pos), idx.Location), localTime(idx.Last(pos), idx.Location)),
				details: map[string]any{
					"minute":        minute,
					"requestCount":  len(pos),
					"averageMinute": mean,
					"ratio":         count / mean,
				},
				related: idx.Related(pos),
			}.anomaly())
		}
		return out
	}
}

func responseCodes(c config.ResponseCodeConfig) detectFunc {
	return func(idx *Index) []model.Anomaly {
		total := idx.Len()
		if total == 0 {
			return nil
		}
		var out []model.Anomaly
		for _, code := range idx.ByCode.Keys {
			if !strings.HasPrefix(code, c.ClassPrefix) {
				continue
			}
			pos := idx.ByCode.Positions[code]
			share := float64(len(pos)) / float64(total)
			if share <= c.Threshold {
				continue
			}
			out = append(out, finding{
				typ:        model.AnomalyResponseCodes,
				subject:    "code:" + code,
				at:         idx.Last(pos),
				confidence: score(share*c.Scale, c.DetectorConfig),
				explanation: fmt.Sprintf("Unusual number of %s response codes. %.1f%% of requests returned this error code, which is above the normal threshold.",
					code, share*100),
				details: map[string]any{
					"responseCode":  code,
					"count":         len(pos),
					"percentage":    share,
					"totalRequests": total,
				},
				related: idx.Related(pos),
			}.anomaly())
		}
		return out
	}
}

func bandwidth(c config.DetectorConfig) detectFunc {
	return func(idx *Index) []model.Anomaly {
		if len(idx.ByIP.Keys) == 0 {
			return nil
		}
		totals := make(map[string]int64, len(idx.ByIP.Keys))
		var sum int64
		for _, ip := range idx.ByIP.Keys {
			var n int64
			for _, p := range idx.ByIP.Positions[ip] {
				n += idx.Entries[p].Bytes()
			}
			totals[ip] = n
			sum += n
		}
		mean := float64(sum) / float64(len(idx.ByIP.Keys))
		if mean <= 0 {
			return nil
		}
		threshold := mean * c.Multiplier
		var out []model.Anomaly
		for _, ip := range idx.ByIP.Keys {
			total := float64(totals[ip])
			if total <= threshold {
				continue
			}
			pos := idx.ByIP.Positions[ip]
			mb := total / (1024 * 1024)
			out = append(out, finding{
				typ:        model.AnomalyBandwidth,
				clientIP:   ip,
				at:         idx.Last(pos),
				confidence: score(total/threshold*100, c),
				explanation: fmt.Sprintf("Unusual bandwidth usage from IP %s. This IP used %.2f MB, which is %.1fx the average bandwidth per IP. Events occurred between %s and %s.",
					ip, mb, total/mean, localTime(idx.First(pos), idx.Location), localTime(idx.Last(pos), idx.Location)),
				details: map[string]any{
					"totalSize":             totals[ip],
					"requestCount":          len(pos),
					"averageBandwidthPerIP": mean,
					"ratio":                 total / mean,
					"sizeInMB":              mb,
				},
				related: idx.Related(pos),
			}.anomaly())
		}
		return out
	}
}

// requestFrequency compares each IP's request rate over its own active span
// with the rate an average IP would have over that span.
func requestFrequency(c config.DetectorConfig) detectFunc {
	return func(idx *Index) []model.Anomaly {
		if len(idx.ByIP.Keys) == 0 {
			return nil
		}
		mean := float64(idx.Len()) / float64(len(idx.ByIP.Keys))
		var out []model.Anomaly
		for _, ip := range idx.ByIP.Keys {
			pos := idx.ByIP.Positions[ip]
			span := idx.Last(pos).Sub(idx.First(pos))
			if span <= 0 {
				continue
			}
			minutes := span.Minutes()
			perMinute := float64(len(pos)) / minutes
			expected := mean / minutes
			threshold := expected * c.Multiplier
			if perMinute <= threshold {
				continue
			}
			out = append(out, finding{
				typ:        model.AnomalyRequestFrequency,
				clientIP:   ip,
				at:         idx.Last(pos),
				confidence: score(perMinute/threshold*100, c),
				explanation: fmt.Sprintf("Unusual number of requests (%d requests in %.0fs) from IP %s. Expected: ~%.0f requests/min, Actual: %.0f requests/min.",
					len(pos), span.Seconds(), ip, expected, perMinute),
				details: map[string]any{
					"requestCount":              len(pos),
					"timeSpan":                  span.Milliseconds(),
					"requestsPerMinute":         perMinute,
					"expectedRequestsPerMinute": expected,
					"ratio":                     ratio(perMinute, expected),
				},
				related: idx.Related(pos),
			}.anomaly())
		}
		return out
	}
}
