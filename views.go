package authsite

import (
	"bytes"
	"embed"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/gorilla/csrf"
)

//go:embed templates/*.html
var templateFS embed.FS

// fsLoader serves pongo2 templates out of an fs.FS. Template names are
// always resolved from the root of the FS.
type fsLoader struct {
	fsys fs.FS
}

func (l *fsLoader) Abs(base, name string) string {
	return path.Clean(strings.TrimPrefix(name, "/"))
}

func (l *fsLoader) Get(p string) (io.Reader, error) {
	b, err := fs.ReadFile(l.fsys, p)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// Views renders the site's HTML pages
type Views struct {
	set   *pongo2.TemplateSet
	debug bool
}

// NewViews loads templates from fsys, or from the embedded templates when
// fsys is nil. In debug mode templates are re-read on every render.
func NewViews(fsys fs.FS, debug bool) (*Views, error) {
	if fsys == nil {
		sub, err := fs.Sub(templateFS, "templates")
		if err != nil {
			return nil, err
		}
		fsys = sub
	}
	set := pongo2.NewSet("authsite", &fsLoader{fsys: fsys})
	set.Debug = debug
	return &Views{set: set, debug: debug}, nil
}

func (v *Views) Render(name string, data pongo2.Context) ([]byte, error) {
	var tpl *pongo2.Template
	var err error
	if v.debug {
		tpl, err = v.set.FromFile(name)
	} else {
		tpl, err = v.set.FromCache(name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading template %s: %w", name, err)
	}
	return tpl.ExecuteBytes(data)
}

// MessageLevel classifies a flash message
type MessageLevel string

const (
	LevelSuccess MessageLevel = "success"
	LevelInfo    MessageLevel = "info"
	LevelWarning MessageLevel = "warning"
	LevelError   MessageLevel = "error"
)

// Message is a one-shot notice shown on the next rendered page
type Message struct {
	Level MessageLevel
	Text  string
}

const sessionMessages = "_messages"

func init() {
	gob.Register([]Message{})
}

func (s *Site) flash(r *http.Request, level MessageLevel, text string) {
	sm := s.Sessions.Manager
	msgs, _ := sm.Get(r.Context(), sessionMessages).([]Message)
	sm.Put(r.Context(), sessionMessages, append(msgs, Message{Level: level, Text: text}))
}

func (s *Site) popMessages(r *http.Request) []Message {
	msgs, _ := s.Sessions.Manager.Pop(r.Context(), sessionMessages).([]Message)
	return msgs
}

// render writes a page with the common context: the current account, the
// pending flash messages and the CSRF token.
func (s *Site) render(w http.ResponseWriter, r *http.Request, status int, name string, data pongo2.Context) {
	account := AccountFromContext(r.Context())
	ctx := pongo2.Context{
		"account":    account,
		"is_admin":   account != nil && HasRole(account.Profile, RoleAdmin),
		"messages":   s.popMessages(r),
		"csrf_token": csrf.Token(r),
		"debug":      s.opts.Debug,
	}
	if data != nil {
		ctx = ctx.Update(data)
	}
	body, err := s.views.Render(name, ctx)
	if err != nil {
		s.Logger.Error("render failed", "template", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}

// formErrors flattens a ValidationError for templates
func formErrors(err error) pongo2.Context {
	out := pongo2.Context{}
	var ve *ValidationError
	if errors.As(err, &ve) {
		for k, v := range ve.Fields {
			out[k] = v
		}
		if len(ve.NonFields) > 0 {
			out["non_field"] = strings.Join(ve.NonFields, " ")
		}
	}
	return out
}
