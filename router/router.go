package router

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	chathandler "codesync/internal/chat"
	chatservice "codesync/internal/chat/service"
	dochandler "codesync/internal/document"
	docservice "codesync/internal/document/service"
	"codesync/internal/presence"
	"codesync/middleware"
	"codesync/services/assistant"
	"codesync/socket"
)

type Deps struct {
	Docs      *docservice.DocumentService
	Chat      *chatservice.ChatService
	Presence  *presence.Tracker
	Assistant *assistant.Client
	Hub       *socket.Hub
	JWTSecret string
}

func Setup(deps Deps) http.Handler {
	r := mux.NewRouter()
	auth := middleware.AuthMiddleware(deps.JWTSecret)

	// WebSocket
	r.Handle("/ws", auth(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		identity, ok := middleware.IdentityFrom(req.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		socket.ServeWs(deps.Hub, w, req, identity)
	})))

	// REST API
	docHandler := dochandler.NewDocumentHandler(deps.Docs)
	chatHandler := chathandler.NewChatHandler(deps.Chat)
	presenceHandler := presence.NewHandler(deps.Presence, deps.Docs.Roles)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(mux.MiddlewareFunc(auth))

	api.Handle("/documents/create", http.HandlerFunc(docHandler.CreateDocument)).Methods(http.MethodPost)
	api.Handle("/documents/save", http.HandlerFunc(docHandler.SaveDocument)).Methods(http.MethodPost)
	api.Handle("/documents/delete", http.HandlerFunc(docHandler.DeleteDocument)).Methods(http.MethodDelete)
	api.Handle("/documents/update", http.HandlerFunc(docHandler.UpdateDocument)).Methods(http.MethodPut)
	api.Handle("/documents/invite", http.HandlerFunc(docHandler.AddCollaborator)).Methods(http.MethodPost)
	api.Handle("/documents/members", http.HandlerFunc(docHandler.GetDocumentMembers)).Methods(http.MethodGet)
	api.Handle("/documents/detail", http.HandlerFunc(docHandler.GetDocument)).Methods(http.MethodGet)
	api.Handle("/documents", http.HandlerFunc(docHandler.GetDocuments)).Methods(http.MethodGet)

	api.Handle("/chat/send", http.HandlerFunc(chatHandler.SendMessage)).Methods(http.MethodPost)
	api.Handle("/chat", http.HandlerFunc(chatHandler.GetMessages)).Methods(http.MethodGet)

	api.Handle("/presence", http.HandlerFunc(presenceHandler.ListPresence)).Methods(http.MethodGet)

	if deps.Assistant != nil {
		assistantHandler := assistant.NewHandler(deps.Assistant)
		api.Handle("/assistant", http.HandlerFunc(assistantHandler.Ask)).Methods(http.MethodPost)
	}

	// Operational endpoints, no auth.
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return middleware.CORSMiddleware(r)
}
