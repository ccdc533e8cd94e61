package memory

import "github.com/usyd/webcrawler-rag/internal/store"

// NewRepositories returns a full set of in-memory repositories.
func NewRepositories() store.Repositories {
	return store.Repositories{
		Users:     NewUserStore(),
		Jobs:      NewJobStore(),
		VectorDBs: NewVectorDBStore(),
		Chats:     NewChatStore(),
		Documents: NewDocumentStore(),
	}
}
