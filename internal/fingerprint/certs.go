package fingerprint

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"netwarden/internal/model"
)

// ProbeResult separates "could not test" from "tested and found nothing".
type ProbeResult string

const (
	ProbeConfirmed    ProbeResult = "confirmed"
	ProbeClear        ProbeResult = "clear"
	ProbeInconclusive ProbeResult = "inconclusive"
)

type CertReport struct {
	Domain             string      `json:"domain"`
	Port               int         `json:"port"`
	Result             ProbeResult `json:"result"`
	Valid              bool        `json:"valid"`
	Subject            string      `json:"subject,omitempty"`
	Issuer             string      `json:"issuer,omitempty"`
	NotBefore          time.Time   `json:"not_before,omitempty"`
	NotAfter           time.Time   `json:"not_after,omitempty"`
	DaysRemaining      int         `json:"days_remaining"`
	Fingerprint        string      `json:"fingerprint,omitempty"`
	KeyType            string      `json:"key_type,omitempty"`
	KeySize            int         `json:"key_size,omitempty"`
	SignatureAlgorithm string      `json:"signature_algorithm,omitempty"`
	ChainLength        int         `json:"chain_length"`
	Findings           []string    `json:"findings,omitempty"`
	Warnings           []string    `json:"warnings,omitempty"`
	Error              string      `json:"error,omitempty"`
	CheckedAt          time.Time   `json:"checked_at"`
}

// Prober fetches the certificate chain a server presents.
type Prober interface {
	PeerCertificates(ctx context.Context, host string, port int) ([]*x509.Certificate, error)
}

type TLSProber struct {
	Timeout time.Duration
}

func (p TLSProber) PeerCertificates(ctx context.Context, host string, port int) ([]*x509.Certificate, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		// The chain is inspected below, never trusted.
		Config: &tls.Config{ServerName: host, InsecureSkipVerify: true}, // #nosec G402
	}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil, errors.New("not a tls connection")
	}
	return tlsConn.ConnectionState().PeerCertificates, nil
}

// CertValidator caches conclusive reports per domain:port. Inconclusive
// probes are not cached so the next sighting tries again.
type CertValidator struct {
	prober  Prober
	cache   *expirable.LRU[string, CertReport]
	timeout time.Duration
	now     func() time.Time
}

func NewCertValidator(prober Prober, size int, ttl, timeout time.Duration) *CertValidator {
	if prober == nil {
		prober = TLSProber{Timeout: timeout}
	}
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CertValidator{
		prober:  prober,
		cache:   expirable.NewLRU[string, CertReport](size, nil, ttl),
		timeout: timeout,
		now:     time.Now,
	}
}

func (v *CertValidator) Validate(ctx context.Context, domain string, port int) CertReport {
	if port <= 0 {
		port = 443
	}
	domain = model.NormalizeDomain(domain)
	key := domain + ":" + strconv.Itoa(port)
	if report, ok := v.cache.Get(key); ok {
		return report
	}

	report := CertReport{Domain: domain, Port: port, CheckedAt: v.now().UTC()}
	if domain == "" {
		report.Result = ProbeInconclusive
		report.Error = "invalid domain"
		return report
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	chain, err := v.prober.PeerCertificates(ctx, domain, port)
	if err != nil || len(chain) == 0 {
		report.Result = ProbeInconclusive
		if err != nil {
			report.Error = err.Error()
		} else {
			report.Error = "no certificate presented"
		}
		return report
	}
	inspect(&report, chain, report.CheckedAt)
	v.cache.Add(key, report)
	return report
}

func inspect(r *CertReport, chain []*x509.Certificate, now time.Time) {
	leaf := chain[0]
	sum := sha256.Sum256(leaf.Raw)
	r.ChainLength = len(chain)
	r.Subject = leaf.Subject.String()
	r.Issuer = leaf.Issuer.String()
	r.NotBefore = leaf.NotBefore.UTC()
	r.NotAfter = leaf.NotAfter.UTC()
	r.Fingerprint = hex.EncodeToString(sum[:])
	r.SignatureAlgorithm = leaf.SignatureAlgorithm.String()
	r.DaysRemaining = int(leaf.NotAfter.Sub(now).Hours() / 24)

	switch key := leaf.PublicKey.(type) {
	case *rsa.PublicKey:
		r.KeyType = "RSA"
		r.KeySize = key.N.BitLen()
		if r.KeySize < 2048 {
			r.Findings = append(r.Findings, "RSA key smaller than 2048 bits")
		}
	case *ecdsa.PublicKey:
		r.KeyType = "ECDSA"
		r.KeySize = key.Curve.Params().BitSize
	case ed25519.PublicKey:
		r.KeyType = "Ed25519"
		r.KeySize = 256
	}

	switch leaf.SignatureAlgorithm {
	case x509.SHA1WithRSA, x509.ECDSAWithSHA1, x509.MD5WithRSA:
		r.Findings = append(r.Findings, "weak signature algorithm "+leaf.SignatureAlgorithm.String())
	}

	switch {
	case now.After(leaf.NotAfter):
		r.Findings = append(r.Findings, "certificate has expired")
	case now.Before(leaf.NotBefore):
		r.Findings = append(r.Findings, "certificate is not yet valid")
	default:
		r.Valid = true
		if r.DaysRemaining < 30 {
			r.Warnings = append(r.Warnings, "certificate expires in "+strconv.Itoa(r.DaysRemaining)+" days")
		}
	}

	if len(r.Findings) > 0 {
		r.Result = ProbeConfirmed
	} else {
		r.Result = ProbeClear
	}
}
