package api

import (
	"net/http"

	"reeltrack/handlers"

	"github.com/gorilla/mux"
)

// handleOptions handles OPTIONS requests for CORS preflight
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Register mounts API endpoints onto the provided router.
// CORS comes from the root router (utils.NewRouter); the OPTIONS routes
// exist so preflight requests match a route and reach it.
func Register(r *mux.Router, settingsHandler *handlers.SettingsHandler, viewsHandler *handlers.ViewsHandler) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/settings", settingsHandler.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", settingsHandler.PutSettings).Methods(http.MethodPut)
	api.HandleFunc("/settings", handleOptions).Methods(http.MethodOptions)

	// Stateless single-cycle load
	api.HandleFunc("/watched", viewsHandler.LoadWatched).Methods(http.MethodGet)
	api.HandleFunc("/watched", handleOptions).Methods(http.MethodOptions)

	// Long-lived views
	api.HandleFunc("/views", viewsHandler.ListViews).Methods(http.MethodGet)
	api.HandleFunc("/views", viewsHandler.CreateView).Methods(http.MethodPost)
	api.HandleFunc("/views", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/views/{viewID}", viewsHandler.GetView).Methods(http.MethodGet)
	api.HandleFunc("/views/{viewID}", viewsHandler.UpdateView).Methods(http.MethodPut)
	api.HandleFunc("/views/{viewID}", viewsHandler.DeleteView).Methods(http.MethodDelete)
	api.HandleFunc("/views/{viewID}", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/views/{viewID}/refresh", viewsHandler.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/views/{viewID}/refresh", handleOptions).Methods(http.MethodOptions)
}
