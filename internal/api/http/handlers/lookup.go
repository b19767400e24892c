package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *Handler) WalletDetail(w http.ResponseWriter, r *http.Request) {
	res, err := a.Lookup.Wallet(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		a.writeError(w, r, "WalletDetail", err)
		return
	}
	a.writeLookup(w, "WalletDetail", res, res.Stale)
}

func (a *Handler) TopTraders(w http.ResponseWriter, r *http.Request) {
	res, err := a.Lookup.TopTraders(r.Context())
	if err != nil {
		a.writeError(w, r, "TopTraders", err)
		return
	}
	a.writeLookup(w, "TopTraders", res, res.Stale)
}

func (a *Handler) SolPrice(w http.ResponseWriter, r *http.Request) {
	res, err := a.Lookup.SolPrice(r.Context())
	if err != nil {
		a.writeError(w, r, "SolPrice", err)
		return
	}
	a.writeLookup(w, "SolPrice", res, res.Stale)
}
