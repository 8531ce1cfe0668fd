package handlers

import "net/http"

// ConvertPoints turns the caller's loyalty points into wallet money
// @Summary Convert points
// @Tags points
// @Accept json
// @Produce json
// @Param request body object{points=int64} true "Points to convert"
// @Success 200 {object} points.Result
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /points/convert [post]
func (h *Handler) ConvertPoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Points int64 `json:"points" validate:"required,gt=0"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		h.sendError(w, r, err)
		return
	}

	res, err := h.svc.Points.Convert(r.Context(), actor(r).ID, req.Points)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
