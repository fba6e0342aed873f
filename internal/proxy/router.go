package proxy

import (
	"net/http"

	"github.com/gorilla/mux"

	"mediaproxy/internal/admission"
)

// Register attaches the proxy's three URL-intake routes to router, using
// named-variable route syntax for the plain, base64-encoded, and inline
// path forms of a target URL.
func (p *Pipeline) Register(router *mux.Router) {
	methods := []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		res := admission.FromQuery(r.URL.Query().Get("url"), p.cfg.MaxURLLength, p.cfg.URLAllowlist)
		p.handleResolved(w, r, res)
	}).Methods(methods...)

	router.HandleFunc("/base64/{encodedUrl}", func(w http.ResponseWriter, r *http.Request) {
		encoded := mux.Vars(r)["encodedUrl"]
		res := admission.FromBase64Path(encoded, p.cfg.MaxURLLength, p.cfg.URLAllowlist)
		p.handleResolved(w, r, res)
	}).Methods(methods...)

	router.HandleFunc("/{targetUrl:.*}", func(w http.ResponseWriter, r *http.Request) {
		raw := mux.Vars(r)["targetUrl"]
		res := admission.FromInlinePath(raw, p.cfg.MaxURLLength, p.cfg.URLAllowlist)
		p.handleResolved(w, r, res)
	}).Methods(methods...)
}

// handleResolved passes an admitted URL, already decoded or prefixed by its
// intake form, on to Handle, which admits it once more; an invalid result
// is reported immediately instead.
func (p *Pipeline) handleResolved(w http.ResponseWriter, r *http.Request, res admission.Result) {
	if !res.Valid {
		p.handleError(w, admissionError(res.URL, res.Reason), http.StatusBadRequest)
		return
	}
	p.Handle(w, r, res.URL)
}
