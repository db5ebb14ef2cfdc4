package transport

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// SOAPClient sends control requests over HTTP.
type SOAPClient struct {
	httpClient *http.Client
	rps        float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSOAPClient creates a client with the given request timeout and a
// per-device request rate limit.
func NewSOAPClient(timeout time.Duration, rateLimitRPS float64) *SOAPClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if rateLimitRPS == 0 {
		rateLimitRPS = 5.0
	}

	return &SOAPClient{
		httpClient: &http.Client{Timeout: timeout},
		rps:        rateLimitRPS,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Close releases idle connections.
func (c *SOAPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *SOAPClient) limiter(ref Ref) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := ref.String()
	l, ok := c.limiters[key]
	if !ok {
		burst := int(c.rps)
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(c.rps), burst)
		c.limiters[key] = l
	}
	return l
}

// SendCommand implements Client.
func (c *SOAPClient) SendCommand(ctx context.Context, ref Ref, service, action string, payload Payload) (Response, error) {
	if err := c.limiter(ref).Wait(ctx); err != nil {
		return nil, classify(err)
	}

	requestID := uuid.NewString()
	url := fmt.Sprintf("http://%s%s", ref, ControlPath(service))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(Envelope(service, action, payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, service, action))

	log.Debug().
		Str("request_id", requestID).
		Str("device", ref.String()).
		Str("action", action).
		Msg("Sending SOAP request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}

	if resp.StatusCode != http.StatusOK {
		// UPnP reports unknown actions and services as 500 or 404 faults
		if resp.StatusCode == http.StatusNotFound || bytes.Contains(body, []byte("Invalid Action")) {
			return nil, fmt.Errorf("%w: %s %s", ErrNoService, service, action)
		}
		return nil, fmt.Errorf("%s returned status %d", action, resp.StatusCode)
	}

	out, err := DecodeResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", action, err)
	}

	log.Debug().Str("request_id", requestID).Int("fields", len(out)).Msg("SOAP response received")
	return out, nil
}

// Envelope renders a SOAP request body. Argument order is sorted so the
// output is deterministic.
func Envelope(service, action string, payload Payload) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	b.WriteString(`<s:Body>`)
	fmt.Fprintf(&b, `<u:%s xmlns:u="%s">`, action, service)

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "<%s>", k)
		xml.EscapeText(&b, []byte(payload[k]))
		fmt.Fprintf(&b, "</%s>", k)
	}

	fmt.Fprintf(&b, `</u:%s>`, action)
	b.WriteString(`</s:Body></s:Envelope>`)
	return b.Bytes()
}

// DecodeResponse flattens the children of the first element inside the SOAP
// body into name/text pairs.
func DecodeResponse(body []byte) (Response, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	out := make(Response)

	depth := 0
	bodyDepth := -1
	var current string
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if t.Name.Local == "Body" && bodyDepth < 0 {
				bodyDepth = depth
			} else if bodyDepth >= 0 && depth == bodyDepth+2 {
				current = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if current != "" {
				text.Write(t)
			}
		case xml.EndElement:
			if bodyDepth >= 0 && depth == bodyDepth+2 && current != "" {
				out[current] = strings.TrimSpace(text.String())
				current = ""
			}
			depth--
		}
	}

	if bodyDepth < 0 {
		return nil, errors.New("missing SOAP body")
	}
	return out, nil
}

func classify(err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnreachable) || errors.Is(err, ErrNoService) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}
