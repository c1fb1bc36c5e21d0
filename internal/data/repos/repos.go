package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/guildsense-backend/internal/data/repos/chat"
	"github.com/yungbote/guildsense-backend/internal/data/repos/files"
	"github.com/yungbote/guildsense-backend/internal/data/repos/jobs"
	"github.com/yungbote/guildsense-backend/internal/data/repos/tenant"
	"github.com/yungbote/guildsense-backend/internal/platform/logger"
)

type GuildRepo = tenant.GuildRepo
type ChannelRepo = tenant.ChannelRepo
type MemberRepo = tenant.MemberRepo

type MessageRepo = chat.MessageRepo
type SessionRepo = chat.SessionRepo
type IndexCounts = chat.IndexCounts

type AttachmentRepo = files.AttachmentRepo
type ChunkRepo = files.ChunkRepo

type QueueRepo = jobs.QueueRepo
type EnqueueParams = jobs.EnqueueParams
type QueueOption = jobs.QueueOption

var (
	WithDedupWindow = jobs.WithDedupWindow
	WithBackoff     = jobs.WithBackoff
)

func NewGuildRepo(db *gorm.DB, baseLog *logger.Logger) GuildRepo {
	return tenant.NewGuildRepo(db, baseLog)
}
func NewChannelRepo(db *gorm.DB, baseLog *logger.Logger) ChannelRepo {
	return tenant.NewChannelRepo(db, baseLog)
}
func NewMemberRepo(db *gorm.DB, baseLog *logger.Logger) MemberRepo {
	return tenant.NewMemberRepo(db, baseLog)
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return chat.NewMessageRepo(db, baseLog)
}
func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return chat.NewSessionRepo(db, baseLog)
}

func NewAttachmentRepo(db *gorm.DB, baseLog *logger.Logger) AttachmentRepo {
	return files.NewAttachmentRepo(db, baseLog)
}
func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return files.NewChunkRepo(db, baseLog)
}

func NewQueueRepo(db *gorm.DB, baseLog *logger.Logger, opts ...jobs.QueueOption) QueueRepo {
	return jobs.NewQueueRepo(db, baseLog, opts...)
}

// All bundles every repo over one database handle.
type All struct {
	Guilds      GuildRepo
	Channels    ChannelRepo
	Members     MemberRepo
	Messages    MessageRepo
	Sessions    SessionRepo
	Attachments AttachmentRepo
	Chunks      ChunkRepo
	Queue       QueueRepo
}

func NewAll(db *gorm.DB, baseLog *logger.Logger, queueOpts ...jobs.QueueOption) All {
	return All{
		Guilds:      NewGuildRepo(db, baseLog),
		Channels:    NewChannelRepo(db, baseLog),
		Members:     NewMemberRepo(db, baseLog),
		Messages:    NewMessageRepo(db, baseLog),
		Sessions:    NewSessionRepo(db, baseLog),
		Attachments: NewAttachmentRepo(db, baseLog),
		Chunks:      NewChunkRepo(db, baseLog),
		Queue:       NewQueueRepo(db, baseLog, queueOpts...),
	}
}
