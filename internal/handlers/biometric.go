package handlers

import (
	"net/http"

	"github.com/joyboy80/AttendanceTracker/internal/middleware"
	"github.com/joyboy80/AttendanceTracker/internal/services"
)

// BiometricHandler exposes the WebAuthn register and login ceremonies. The
// finish endpoints take the raw authenticator response as the request body.
type BiometricHandler struct {
	biometric *services.BiometricService
}

func NewBiometricHandler(biometric *services.BiometricService) *BiometricHandler {
	return &BiometricHandler{biometric: biometric}
}

func (h *BiometricHandler) BeginRegistration(w http.ResponseWriter, r *http.Request) {
	options, err := h.biometric.BeginRegistration(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

func (h *BiometricHandler) FinishRegistration(w http.ResponseWriter, r *http.Request) {
	if err := h.biometric.FinishRegistration(r.Context(), middleware.GetUserID(r.Context()), r); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Biometric credential registered"})
}

func (h *BiometricHandler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	options, err := h.biometric.BeginLogin(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

func (h *BiometricHandler) FinishLogin(w http.ResponseWriter, r *http.Request) {
	token, err := h.biometric.FinishLogin(r.Context(), middleware.GetUserID(r.Context()), r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assertion_token": token})
}
