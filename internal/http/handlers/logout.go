package handlers

import "net/http"

// Logout pisa el cookie SSO del dominio padre y redirige. El destino se
// valida contra el dominio compartido; cualquier otra cosa cae al default.
func (d *Deps) Logout(w http.ResponseWriter, r *http.Request) {
	d.Session.ClearCookie(w)
	http.Redirect(w, r, d.Session.SafeRedirect(r.URL.Query().Get("callback")), http.StatusFound)
}
