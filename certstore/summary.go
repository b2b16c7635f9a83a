package certstore

import (
	"crypto/x509"
	"time"

	"github.com/astraldesk/securehttp/foundation/hash"
	"github.com/astraldesk/securehttp/settings"
)

// Summary is the derived description of the leaf certificate, computed
// once per validation pass against "now" and persisted. It can go stale;
// readers who need current truth call Validate again.
type Summary struct {
	Subject           string
	Issuer            string
	SerialNumber      string
	NotBefore         time.Time
	NotAfter          time.Time
	SHA256Fingerprint string
	KeyUsage          []string
	IsCurrentlyValid  bool
	DaysUntilExpiry   int
}

// NewSummary derives a Summary from cert as of now. Timestamps are
// normalized to UTC.
func NewSummary(cert *x509.Certificate, now time.Time) Summary {
	now = now.UTC()
	notBefore := cert.NotBefore.UTC()
	notAfter := cert.NotAfter.UTC()

	return Summary{
		Subject:           cert.Subject.String(),
		Issuer:            cert.Issuer.String(),
		SerialNumber:      cert.SerialNumber.Text(16),
		NotBefore:         notBefore,
		NotAfter:          notAfter,
		SHA256Fingerprint: hash.SumBytes(cert.Raw),
		KeyUsage:          keyUsageNames(cert.KeyUsage),
		IsCurrentlyValid:  !now.Before(notBefore) && !now.After(notAfter),
		DaysUntilExpiry:   int(notAfter.Sub(now).Hours() / 24),
	}
}

func (s Summary) asMap() map[string]any {
	usages := make([]any, 0, len(s.KeyUsage))
	for _, u := range s.KeyUsage {
		usages = append(usages, u)
	}
	return map[string]any{
		"subject":           s.Subject,
		"issuer":            s.Issuer,
		"serialNumber":      s.SerialNumber,
		"notBefore":         s.NotBefore.Format(time.RFC3339),
		"notAfter":          s.NotAfter.Format(time.RFC3339),
		"sha256Fingerprint": s.SHA256Fingerprint,
		"keyUsage":          usages,
		"isCurrentlyValid":  s.IsCurrentlyValid,
		"daysUntilExpiry":   s.DaysUntilExpiry,
	}
}

// Summary reads the last persisted summary, if any.
func (s *Store) Summary() (Summary, bool) {
	return SummaryFromSettings(s.settings)
}

// SummaryFromSettings reads the last persisted summary, if any.
func SummaryFromSettings(st settings.Store) (Summary, bool) {
	m, ok := st.Get(KeyCertInfo, nil).(map[string]any)
	if !ok {
		return Summary{}, false
	}

	sum := Summary{
		Subject:           str(m["subject"]),
		Issuer:            str(m["issuer"]),
		SerialNumber:      str(m["serialNumber"]),
		SHA256Fingerprint: str(m["sha256Fingerprint"]),
	}
	if t, err := time.Parse(time.RFC3339, str(m["notBefore"])); err == nil {
		sum.NotBefore = t
	}
	if t, err := time.Parse(time.RFC3339, str(m["notAfter"])); err == nil {
		sum.NotAfter = t
	}
	if v, ok := m["isCurrentlyValid"].(bool); ok {
		sum.IsCurrentlyValid = v
	}
	if v, ok := m["daysUntilExpiry"].(int); ok {
		sum.DaysUntilExpiry = v
	}
	if us, ok := m["keyUsage"].([]any); ok {
		for _, u := range us {
			sum.KeyUsage = append(sum.KeyUsage, str(u))
		}
	}
	return sum, true
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

var keyUsageLabels = []struct {
	bit  x509.KeyUsage
	name string
}{
	{x509.KeyUsageDigitalSignature, "digitalSignature"},
	{x509.KeyUsageContentCommitment, "contentCommitment"},
	{x509.KeyUsageKeyEncipherment, "keyEncipherment"},
	{x509.KeyUsageDataEncipherment, "dataEncipherment"},
	{x509.KeyUsageKeyAgreement, "keyAgreement"},
	{x509.KeyUsageCertSign, "keyCertSign"},
	{x509.KeyUsageCRLSign, "cRLSign"},
	{x509.KeyUsageEncipherOnly, "encipherOnly"},
	{x509.KeyUsageDecipherOnly, "decipherOnly"},
}

func keyUsageNames(u x509.KeyUsage) []string {
	var names []string
	for _, l := range keyUsageLabels {
		if u&l.bit != 0 {
			names = append(names, l.name)
		}
	}
	return names
}
