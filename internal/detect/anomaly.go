package detect

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"gatewaylens/internal/config"
	"gatewaylens/internal/model"
)

var anomalyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("gatewaylens/anomaly"))

// score rounds raw and clamps it into the detector's confidence bounds.
func score(raw float64, c config.DetectorConfig) int {
	if math.IsNaN(raw) {
		raw = float64(c.MinConfidence)
	}
	clamped := math.Max(float64(c.MinConfidence), math.Min(float64(c.MaxConfidence), raw))
	return int(math.Round(clamped))
}

type finding struct {
	typ         model.AnomalyType
	clientIP    string
	url         string
	subject     string
	at          time.Time
	confidence  int
	explanation string
	details     map[string]any
	related     []string
}

// anomaly stamps the deterministic id and the derived severity. The id hashes
// type, subject and time so rerunning a batch reproduces it.
func (f finding) anomaly() model.Anomaly {
	subject := f.subject
	if subject == "" {
		subject = f.clientIP + "|" + f.url
	}
	name := strings.Join([]string{string(f.typ), subject, f.at.UTC().Format(time.RFC3339Nano)}, "|")
	related := f.related
	if related == nil {
		related = []string{}
	}
	return model.Anomaly{
		ID:             uuid.NewSHA1(anomalyNamespace, []byte(name)).String(),
		Timestamp:      f.at,
		ClientIP:       f.clientIP,
		URL:            f.url,
		Type:           f.typ,
		Confidence:     f.confidence,
		Explanation:    f.explanation,
		Severity:       model.SeverityForConfidence(f.confidence),
		Details:        f.details,
		RelatedEntries: related,
	}
}

func ratio(n, d float64) float64 {
	if d == 0 {
		return 0
	}
	return n / d
}

func localTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02 15:04:05")
}
