package httpapi

import (
	"net/http"
	"time"

	"cloudpico-airquality/internal/cycle"
	"cloudpico-airquality/internal/metrics"
	"cloudpico-airquality/internal/utils"
)

type healthchecker struct {
	status StatusProvider
}

type healthResponse struct {
	Status      string     `json:"status"`
	Phase       string     `json:"phase"`
	Elapsed     int        `json:"elapsed"`
	Interval    int        `json:"interval"`
	LastPublish *time.Time `json:"last_publish"`
	LastAQI     *int       `json:"last_aqi"`
}

func newHealthResponse(st metrics.Status) healthResponse {
	resp := healthResponse{
		Status:   "ok",
		Phase:    st.Phase,
		Elapsed:  st.Elapsed,
		Interval: st.Interval,
		LastAQI:  st.LastAQI,
	}
	if !st.LastPublish.IsZero() {
		t := st.LastPublish
		resp.LastPublish = &t
	}
	return resp
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := h.status.Status()
	if st.Phase == cycle.FaultRestart.String() {
		utils.WriteError(w, http.StatusServiceUnavailable, "restarting after fault in "+st.LastFault)
		return
	}
	utils.WriteJSON(w, http.StatusOK, newHealthResponse(st))
}
