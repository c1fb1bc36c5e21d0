package domain

import (
	"github.com/yungbote/guildsense-backend/internal/domain/chat"
	"github.com/yungbote/guildsense-backend/internal/domain/files"
	"github.com/yungbote/guildsense-backend/internal/domain/jobs"
	"github.com/yungbote/guildsense-backend/internal/domain/tenant"
)

type Guild = tenant.Guild
type Channel = tenant.Channel
type Member = tenant.Member

type Message = chat.Message
type Session = chat.Session

type Attachment = files.Attachment
type Chunk = files.Chunk

type Job = jobs.Job
type DeadLetter = jobs.DeadLetter

// AllModels feeds AutoMigrate; order respects FK-ish dependencies.
func AllModels() []any {
	return []any{
		&tenant.Guild{},
		&tenant.Channel{},
		&tenant.Member{},
		&chat.Message{},
		&chat.Session{},
		&files.Attachment{},
		&files.Chunk{},
		&jobs.Job{},
		&jobs.DeadLetter{},
	}
}
