package app

import (
	"gorm.io/gorm"

	"github.com/maieulabs/maieutic-backend/internal/data/repos"
	"github.com/maieulabs/maieutic-backend/internal/platform/logger"
)

type Repos struct {
	Conversations repos.ConversationRepo
	Nodes         repos.CanvasNodeRepo
	Archive       repos.ArchivedMessageRepo
	Jobs          repos.CompletionJobRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Conversations: repos.NewConversationRepo(db, log),
		Nodes:         repos.NewCanvasNodeRepo(db, log),
		Archive:       repos.NewArchivedMessageRepo(db, log),
		Jobs:          repos.NewCompletionJobRepo(db, log),
	}
}
