package handlers

import (
	"net/http"

	httpx "github.com/mitselek/polyphony-sub002/internal/http"
)

// JWKS publica las claves públicas no-revocadas. El documento sólo agrega o
// deja de listar claves, nunca muta bytes, así que los verifiers pueden
// cachearlo una hora sin riesgo.
func (d *Deps) JWKS(w http.ResponseWriter, r *http.Request) {
	doc, err := d.Keys.JWKSJSON(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo construir el JWKS", 1500)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}
