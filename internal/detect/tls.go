package detect

import (
	"fmt"

	"gatewaylens/internal/config"
	"gatewaylens/internal/model"
)

func sslDecryption(c config.SSLDecryptionConfig) detectFunc {
	return func(idx *Index) []model.Anomaly {
		total := idx.Len()
		if total == 0 {
			return nil
		}
		pos := idx.Filter(func(e *model.ParsedLogEntry) bool { return e.SSLDecrypted == c.DecryptedValue })
		share := float64(len(pos)) / float64(total)
		if len(pos) == 0 || share <= c.Threshold {
			return nil
		}
		return []model.Anomaly{finding{
			typ:        model.AnomalySSLBehavior,
			subject:    "ssl:decryption",
			at:         idx.Last(pos),
			confidence: score(share*c.Scale, c.DetectorConfig),
			explanation: fmt.Sprintf("High SSL decryption rate (%.1f%%). This may indicate policy enforcement but could also suggest privacy concerns.",
				share*100),
			details: map[string]any{
				"decryptionRate": share,
				"decryptedCount": len(pos),
				"totalSSL":       total,
			},
			related: idx.Related(pos),
		}.anomaly()}
	}
}

func legacyTLS(c config.LegacyTLSConfig) detectFunc {
	legacy := make(map[string]struct{}, len(c.Versions))
	for _, v := range c.Versions {
		legacy[v] = struct{}{}
	}
	return func(idx *Index) []model.Anomaly {
		total := idx.Len()
		if total == 0 {
			return nil
		}
		pos := idx.Filter(func(e *model.ParsedLogEntry) bool {
			_, ok := legacy[e.ClientTLSVersion]
			return ok && e.ClientTLSVersion != ""
		})
		share := float64(len(pos)) / float64(total)
		if len(pos) == 0 || share <= c.Threshold {
			return nil
		}
		return []model.Anomaly{finding{
			typ:        model.AnomalySSLBehavior,
			subject:    "ssl:legacy_tls",
			at:         idx.Last(pos),
			confidence: score(share*c.Scale, c.DetectorConfig),
			explanation: fmt.Sprintf("Unusual number of old TLS connections (%.1f%%). This may indicate outdated clients or potential security risks.",
				share*100),
			details: map[string]any{
				"oldTLSRate":  share,
				"oldTLSCount": len(pos),
				"totalSSL":    total,
			},
			related: idx.Related(pos),
		}.anomaly()}
	}
}
