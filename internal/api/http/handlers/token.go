package handlers

import (
	"net/http"

	"marketpulse/internal/domain"

	"github.com/go-chi/chi/v5"
)

type instrumentsResponse struct {
	Instruments []domain.InstrumentView `json:"instruments"`
	Generation  uint64                  `json:"generation"`
}

func (a *Handler) ListInstruments(w http.ResponseWriter, _ *http.Request) {
	a.writeOK(w, "ListInstruments", instrumentsResponse{
		Instruments: a.Engine.Instruments(),
		Generation:  a.Engine.Status().Generation,
	})
}

func (a *Handler) GetInstrument(w http.ResponseWriter, r *http.Request) {
	v, err := a.Engine.Instrument(chi.URLParam(r, "mint"))
	if err != nil {
		a.writeError(w, r, "GetInstrument", err)
		return
	}
	a.writeOK(w, "GetInstrument", v)
}

// TokenDetail is the cached token + top holders lookup
func (a *Handler) TokenDetail(w http.ResponseWriter, r *http.Request) {
	res, err := a.Lookup.Token(r.Context(), chi.URLParam(r, "mint"))
	if err != nil {
		a.writeError(w, r, "TokenDetail", err)
		return
	}
	a.writeLookup(w, "TokenDetail", res, res.Stale)
}
