package api

import (
	"crypto/subtle"
	"html/template"
	"log/slog"
	"net/http"

	"rsc.io/qr"
)

var qrPage = template.Must(template.New("qr").Parse(`<!doctype html>
<html lang="pt-BR">
<head><meta charset="utf-8"><title>Conectar WhatsApp</title></head>
<body style="font-family:sans-serif;text-align:center">
<h1>Escaneie o QR Code</h1>
<p>WhatsApp &gt; Aparelhos conectados &gt; Conectar um aparelho</p>
<img src="/qr.png{{if .Token}}?token={{.Token}}{{end}}" alt="QR Code" width="320" height="320">
<p>A página não atualiza sozinha. Recarregue se o código expirar.</p>
</body>
</html>
`))

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte("online")); err != nil {
		slog.Error("Server.rootHandler: failed to write response", "error", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	connected := s.source.IsConnected()
	loggedIn := s.source.IsLoggedIn()
	pairing := s.source.LatestQR() != ""

	resp := Response{Status: "ok", Connected: &connected, LoggedIn: &loggedIn, Pairing: &pairing}
	code := http.StatusOK
	if !connected {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	slog.Debug("Server.healthHandler: health checked", "connected", connected, "logged_in", loggedIn)
	writeJSONResponse(w, code, resp)
}

// requireToken rejects requests without the configured token.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" {
			got := r.URL.Query().Get("token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) != 1 {
				slog.Warn("Server.requireToken: rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeJSONResponse(w, http.StatusUnauthorized, errorResponse("invalid token"))
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) qrPageHandler(w http.ResponseWriter, r *http.Request) {
	if s.source.LatestQR() == "" {
		writeJSONResponse(w, http.StatusNotFound, errorResponse("no pairing code available"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := qrPage.Execute(w, struct{ Token string }{s.opts.Token}); err != nil {
		slog.Error("Server.qrPageHandler: failed to render page", "error", err)
	}
}

func (s *Server) qrImageHandler(w http.ResponseWriter, r *http.Request) {
	text := s.source.LatestQR()
	if text == "" {
		writeJSONResponse(w, http.StatusNotFound, errorResponse("no pairing code available"))
		return
	}
	code, err := qr.Encode(text, qr.M)
	if err != nil {
		slog.Error("Server.qrImageHandler: failed to encode QR", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse("failed to encode QR code"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(code.PNG()); err != nil {
		slog.Error("Server.qrImageHandler: failed to write image", "error", err)
	}
}
