// Package reqmsg builds the payloads of the "request" and "response" events.
package reqmsg

import (
	"bytes"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mssola/useragent"

	"github.com/3xpluto/go-reqlog/internal/httpx"
	"github.com/3xpluto/go-reqlog/internal/reqctx"
)

type Config struct {
	RecordHeaders      bool
	HeaderKeys         []string
	RecordUserAgent    bool
	RecordTokenSubject bool
}

type Message struct {
	URL          string     `json:"url"`
	Method       string     `json:"method"`
	Params       Params     `json:"params"`
	Headers      []string   `json:"headers,omitempty"`
	UserAgent    *UserAgent `json:"useragent,omitempty"`
	TokenSubject string     `json:"token_subject,omitempty"`
	TS           string     `json:"ts"`
}

type Params struct {
	QueryParams url.Values `json:"query_params,omitempty"`
	Form        url.Values `json:"form,omitempty"`
	Body        any        `json:"body,omitempty"`
}

type UserAgent struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  Device `json:"device"`
}

type Device struct {
	Platform string `json:"platform"`
	Mobile   bool   `json:"mobile"`
	Bot      bool   `json:"bot"`
}

type Builder struct {
	cfg Config
	now func() time.Time
}

func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg, now: time.Now}
}

// Build describes r. body is the buffered request body, nil when the body
// was not buffered.
func (b *Builder) Build(r *http.Request, body []byte) Message {
	m := Message{
		URL:    r.URL.Path,
		Method: r.Method,
		TS:     b.now().Format(reqctx.TimestampLayout),
	}
	if q := r.URL.Query(); len(q) > 0 {
		m.Params.QueryParams = q
	}

	ct := r.Header.Get("Content-Type")
	form, multi := parseForm(ct, body)
	if len(form) > 0 {
		m.Params.Form = form
	}
	if !multi {
		if v := DecodeBody(body, ct, r.Header.Get("Content-Encoding")); !isEmpty(v) {
			m.Params.Body = v
		}
	}

	if b.cfg.RecordHeaders && len(b.cfg.HeaderKeys) > 0 {
		m.Headers = make([]string, len(b.cfg.HeaderKeys))
		for i, k := range b.cfg.HeaderKeys {
			m.Headers[i] = r.Header.Get(k)
		}
	}
	if b.cfg.RecordUserAgent {
		if ua := r.UserAgent(); ua != "" {
			m.UserAgent = parseUserAgent(ua)
		}
	}
	if b.cfg.RecordTokenSubject {
		m.TokenSubject = TokenSubject(r)
	}
	return m
}

// Body returns the payload kept on the request context: the decoded body
// or, for form posts, the form values.
func (m Message) Body() any {
	if m.Params.Body != nil {
		return m.Params.Body
	}
	if m.Params.Form != nil {
		return m.Params.Form
	}
	return nil
}

func parseForm(contentType string, body []byte) (url.Values, bool) {
	if len(body) == 0 || contentType == "" {
		return nil, false
	}
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, false
	}
	switch mt {
	case "application/x-www-form-urlencoded":
		v, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, false
		}
		return v, false
	case "multipart/form-data":
		mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
		f, err := mr.ReadForm(int64(len(body)))
		if err != nil {
			return nil, true
		}
		defer f.RemoveAll()
		out := url.Values{}
		for k, vs := range f.Value {
			out[k] = append(out[k], vs...)
		}
		for k, fhs := range f.File {
			for _, fh := range fhs {
				out.Add(k, "<file "+fh.Filename+">")
			}
		}
		return out, true
	}
	return nil, false
}

func parseUserAgent(s string) *UserAgent {
	ua := useragent.New(s)
	name, version := ua.Browser()
	return &UserAgent{
		OS:      ua.OS(),
		Browser: strings.TrimSpace(name + " " + version),
		Device: Device{
			Platform: ua.Platform(),
			Mobile:   ua.Mobile(),
			Bot:      ua.Bot(),
		},
	}
}

// TokenSubject returns the "sub" claim of a bearer token without verifying
// it. The value is for correlation in logs only.
func TokenSubject(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return ""
	}
	tok := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

type ResponseMessage struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
	Truncated  bool              `json:"truncated,omitempty"`
	Aborted    bool              `json:"aborted,omitempty"`
}

// BuildResponse describes a finished response. Without withBody only the
// status code is kept.
func BuildResponse(snap httpx.ResponseSnapshot, withBody, withHeaders bool) ResponseMessage {
	m := ResponseMessage{StatusCode: snap.StatusCode}
	if !withBody {
		return m
	}
	if withHeaders && len(snap.Header) > 0 {
		m.Headers = make(map[string]string, len(snap.Header))
		for k := range snap.Header {
			m.Headers[k] = snap.Header.Get(k)
		}
	}
	if !snap.Truncated || !strings.EqualFold(snap.Header.Get("Content-Encoding"), "gzip") {
		m.Body = DecodeBody(snap.Body, snap.Header.Get("Content-Type"), snap.Header.Get("Content-Encoding"))
	}
	m.Truncated = snap.Truncated
	return m
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
