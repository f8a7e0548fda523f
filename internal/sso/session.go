package sso

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mitselek/polyphony-sub002/internal/oauth/google"
	"github.com/mitselek/polyphony-sub002/internal/token"
)

const DefaultCookieName = "registry_sso"

// Session maneja el cookie SSO en el dominio padre compartido.
type Session struct {
	Issuer       *Issuer
	CookieName   string
	Domain       string // dominio padre (ej: ".choirs.example")
	Secure       bool
	DefaultAfter string // destino seguro por defecto post-logout
}

func NewSession(issuer *Issuer, domain string, secure bool, defaultAfter string) *Session {
	return &Session{
		Issuer:       issuer,
		CookieName:   DefaultCookieName,
		Domain:       domain,
		Secure:       secure,
		DefaultAfter: defaultAfter,
	}
}

// SetCookie firma un token SSO fresco y lo deja en el cookie del dominio padre.
// HttpOnly siempre; SameSite=Lax para que sobreviva al redirect del provider.
func (s *Session) SetCookie(ctx context.Context, w http.ResponseWriter, id *google.Identity) error {
	val, err := s.Issuer.MintSSO(ctx, id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.CookieName,
		Value:    val,
		Path:     "/",
		Domain:   s.Domain,
		Expires:  time.Now().UTC().Add(CookieTTL),
		MaxAge:   int(CookieTTL.Seconds()),
		Secure:   s.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearCookie borra el cookie (mismo domain/path para que el browser lo pise).
func (s *Session) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   s.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   s.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// FastPath intenta resolver la identidad desde el cookie SSO. Cualquier falla
// de verificación (vencido, firma mala, audiencia equivocada) se traga y vale
// como "sin sesión": un cookie de conveniencia vencido es un estado benigno,
// jamás un error duro. La audiencia DEBE ser la reservada: un token tenant
// nunca se acepta como SSO.
func (s *Session) FastPath(ctx context.Context, r *http.Request) (*google.Identity, bool) {
	c, err := r.Cookie(s.CookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	cl, err := s.Issuer.VerifyLocal(ctx, c.Value, token.AudienceSSO)
	if err != nil {
		return nil, false
	}
	return &google.Identity{
		Email:         cl.Email,
		EmailVerified: true,
		Name:          cl.Name,
		Picture:       cl.Picture,
	}, true
}

// SafeRedirect valida el callback de logout contra el dominio padre:
// mismo origen o subdominio, https (o http sólo si Secure=false, dev).
// Cualquier otro destino cae al default (prevención de open redirect).
func (s *Session) SafeRedirect(callback string) string {
	if callback == "" {
		return s.DefaultAfter
	}
	u, err := url.Parse(callback)
	if err != nil || u.Host == "" {
		return s.DefaultAfter
	}
	if u.Scheme != "https" && (s.Secure || u.Scheme != "http") {
		return s.DefaultAfter
	}
	parent := strings.TrimPrefix(s.Domain, ".")
	host := u.Hostname()
	if !strings.EqualFold(host, parent) && !strings.HasSuffix(strings.ToLower(host), "."+strings.ToLower(parent)) {
		return s.DefaultAfter
	}
	return callback
}
