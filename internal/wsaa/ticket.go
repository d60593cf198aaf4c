// Package wsaa obtains and caches signed authentication tickets from
// the AFIP WSAA identity service.
package wsaa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"invoicing-service/internal/util"

	"go.uber.org/zap"
)

var (
	ErrCertificateMissing   = errors.New("wsaa: signing certificate missing")
	ErrSigningFailure       = errors.New("wsaa: request signing failed")
	ErrServiceUnreachable   = errors.New("wsaa: identity service unreachable")
	ErrAlreadyAuthenticated = errors.New("wsaa: a valid ticket already exists server-side")
)

const (
	// safetyMargin keeps us from presenting a ticket that expires
	// mid-issuance. Zero margin is used only on the
	// AlreadyAuthenticated recovery path.
	safetyMargin = 10 * time.Minute

	// cacheTTL bounds the in-process cache below the ticket's own
	// 12 hour lifetime as an extra safety margin.
	cacheTTL = 10 * time.Hour

	defaultValidity = 12 * time.Hour
	assertionWindow = 5 * time.Minute
)

// Ticket is a signed authentication credential for the invoicing service.
type Ticket struct {
	Token     string    `json:"token"`
	Sign      string    `json:"sign"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config wires a Manager. Store, Signer, HTTPClient and Now are
// injectable so tests can run against fakes and a fixed clock.
type Config struct {
	Environment string
	URL         string
	Service     string
	Store       TicketStore
	Signer      Signer
	HTTPClient  *http.Client
	Now         func() time.Time
}

// Manager hands out a usable ticket, minting a new one only when the
// persisted and in-process copies are both inside the safety margin.
type Manager struct {
	env    string
	url    string
	svc    string
	store  TicketStore
	signer Signer
	client *http.Client
	now    func() time.Time
	logger *zap.Logger

	mu         sync.Mutex
	cached     *Ticket
	cacheUntil time.Time
}

// NewManager creates a ticket manager.
func NewManager(cfg Config) *Manager {
	if cfg.Service == "" {
		cfg.Service = "wsfe"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		env:    cfg.Environment,
		url:    cfg.URL,
		svc:    cfg.Service,
		store:  cfg.Store,
		signer: cfg.Signer,
		client: cfg.HTTPClient,
		now:    cfg.Now,
		logger: util.GetLogger(),
	}
}

// GetTicket returns a ticket valid for at least the safety margin.
// Lookup order: persisted store, in-process cache, fresh login. The
// mutex serializes concurrent logins within this process; a race with
// another process is absorbed by the AlreadyAuthenticated recovery.
func (m *Manager) GetTicket(ctx context.Context) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, err := m.store.Load(m.env); err != nil {
		m.logger.Warn("Failed to read persisted ticket", zap.Error(err))
	} else if m.usable(t, safetyMargin) {
		util.TicketHitsTotal.WithLabelValues("persisted").Inc()
		return t, nil
	}

	if m.usable(m.cached, safetyMargin) && m.now().Before(m.cacheUntil) {
		util.TicketHitsTotal.WithLabelValues("memory").Inc()
		return m.cached, nil
	}

	ticket, err := m.login(ctx)
	if errors.Is(err, ErrAlreadyAuthenticated) {
		// The service holds a valid ticket we failed to present.
		// Accept the persisted one up to its literal expiration
		// second rather than failing the whole issuance run.
		if t, lerr := m.store.Load(m.env); lerr == nil && m.usable(t, 0) {
			m.logger.Info("Recovered persisted ticket after alreadyAuthenticated conflict",
				zap.String("environment", m.env),
				zap.Time("expires_at", t.ExpiresAt))
			return t, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := m.store.Save(m.env, ticket); err != nil {
		m.logger.Error("Failed to persist ticket", zap.Error(err))
	}
	m.cached = ticket
	m.cacheUntil = m.now().Add(cacheTTL)

	util.TicketLoginsTotal.Inc()
	m.logger.Info("Obtained fresh WSAA ticket",
		zap.String("environment", m.env),
		zap.Time("expires_at", ticket.ExpiresAt))

	return ticket, nil
}

func (m *Manager) usable(t *Ticket, margin time.Duration) bool {
	return t != nil && t.Token != "" && m.now().Add(margin).Before(t.ExpiresAt)
}

func (m *Manager) login(ctx context.Context) (*Ticket, error) {
	request, err := m.buildLoginTicketRequest()
	if err != nil {
		return nil, err
	}

	signed, err := m.signer.Sign(request)
	if err != nil {
		return nil, err
	}

	envelope := buildLoginCmsEnvelope(base64.StdEncoding.EncodeToString(signed))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, strings.NewReader(envelope))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", "")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
	}

	return parseLoginResponse(body, m.now())
}

// loginTicketRequest is the time-boxed assertion signed into the CMS
// envelope: a window of now-5m to now+5m with a unique nonce.
type loginTicketRequest struct {
	XMLName xml.Name `xml:"loginTicketRequest"`
	Version string   `xml:"version,attr"`
	Header  struct {
		UniqueID       uint32 `xml:"uniqueId"`
		GenerationTime string `xml:"generationTime"`
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Service string `xml:"service"`
}

const assertionTimeLayout = "2006-01-02T15:04:05-07:00"

func (m *Manager) buildLoginTicketRequest() ([]byte, error) {
	now := m.now()

	req := loginTicketRequest{Version: "1.0", Service: m.svc}
	req.Header.UniqueID = uint32(now.Unix())
	req.Header.GenerationTime = now.Add(-assertionWindow).Format(assertionTimeLayout)
	req.Header.ExpirationTime = now.Add(assertionWindow).Format(assertionTimeLayout)

	out, err := xml.Marshal(req)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func buildLoginCmsEnvelope(cms string) string {
	var b bytes.Buffer
	b.WriteString(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:wsaa="http://wsaa.view.sua.dvadac.desein.afip.gov">`)
	b.WriteString(`<soapenv:Header/><soapenv:Body><wsaa:loginCms><wsaa:in0>`)
	b.WriteString(cms)
	b.WriteString(`</wsaa:in0></wsaa:loginCms></soapenv:Body></soapenv:Envelope>`)
	return b.String()
}

// loginCmsEnvelope matches by local name only, so namespace prefixes on
// Body, loginCmsResponse or loginCmsReturn are all tolerated.
type loginCmsEnvelope struct {
	Return      string `xml:"Body>loginCmsResponse>loginCmsReturn"`
	FaultCode   string `xml:"Body>Fault>faultcode"`
	FaultString string `xml:"Body>Fault>faultstring"`
}

type loginTicketResponse struct {
	Header struct {
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Credentials struct {
		Token string `xml:"token"`
		Sign  string `xml:"sign"`
	} `xml:"credentials"`
}

func parseLoginResponse(body []byte, now time.Time) (*Ticket, error) {
	var envelope loginCmsEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrServiceUnreachable, err)
	}

	if envelope.FaultString != "" {
		if strings.Contains(envelope.FaultCode, "alreadyAuthenticated") ||
			strings.Contains(envelope.FaultString, "alreadyAuthenticated") {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyAuthenticated, envelope.FaultString)
		}
		return nil, fmt.Errorf("wsaa fault %s: %s", envelope.FaultCode, envelope.FaultString)
	}

	// The ticket arrives double-encoded: entity-escaped XML embedded in
	// the SOAP body. The outer parse decodes one layer; strip any layer
	// that survives before parsing the ticket itself.
	inner := envelope.Return
	for strings.Contains(inner, "&lt;") {
		inner = html.UnescapeString(inner)
	}
	if strings.TrimSpace(inner) == "" {
		return nil, fmt.Errorf("%w: empty loginCmsReturn", ErrServiceUnreachable)
	}

	var ltr loginTicketResponse
	if err := xml.Unmarshal([]byte(inner), &ltr); err != nil {
		return nil, fmt.Errorf("%w: malformed loginTicketResponse: %v", ErrServiceUnreachable, err)
	}
	if ltr.Credentials.Token == "" || ltr.Credentials.Sign == "" {
		return nil, fmt.Errorf("%w: response missing credentials", ErrServiceUnreachable)
	}

	expiresAt := parseExpiration(ltr.Header.ExpirationTime, now)

	return &Ticket{
		Token:     ltr.Credentials.Token,
		Sign:      ltr.Credentials.Sign,
		ExpiresAt: expiresAt,
	}, nil
}

// parseExpiration falls back to a 12 hour validity when the service
// omits or mangles the expiration timestamp.
func parseExpiration(raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.Add(defaultValidity)
	}
	for _, layout := range []string{time.RFC3339, assertionTimeLayout, "2006-01-02T15:04:05.000-07:00"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return now.Add(defaultValidity)
}
