package sessionizer

import (
	"regexp"
	"strings"
)

// Mentions resolves raw platform mention IDs to readable names for
// transcript enrichment. Missing entries fall back to a generic label
// rather than leaking numeric IDs into embedded text.
type Mentions struct {
	Members  map[string]string
	Roles    map[string]string
	Channels map[string]string
}

var (
	memberMentionRe  = regexp.MustCompile(`<@!?(\d+)>`)
	roleMentionRe    = regexp.MustCompile(`<@&(\d+)>`)
	channelMentionRe = regexp.MustCompile(`<#(\d+)>`)
)

// CleanContent rewrites raw mention markup into readable text.
func CleanContent(content string, m Mentions) string {
	out := memberMentionRe.ReplaceAllStringFunc(content, func(match string) string {
		id := memberMentionRe.FindStringSubmatch(match)[1]
		if name, ok := m.Members[id]; ok && name != "" {
			return "@" + name
		}
		return "@user"
	})
	out = roleMentionRe.ReplaceAllStringFunc(out, func(match string) string {
		id := roleMentionRe.FindStringSubmatch(match)[1]
		if name, ok := m.Roles[id]; ok && name != "" {
			return "@" + name
		}
		return "@role"
	})
	out = channelMentionRe.ReplaceAllStringFunc(out, func(match string) string {
		id := channelMentionRe.FindStringSubmatch(match)[1]
		if name, ok := m.Channels[id]; ok && name != "" {
			return "#" + name
		}
		return "#channel"
	})
	return out
}

// CollectMentionIDs gathers the member and channel IDs mentioned across
// messages so a caller can resolve them in two lookups.
func CollectMentionIDs(msgs []Message) (memberIDs, channelIDs []string) {
	memberSet := map[string]struct{}{}
	channelSet := map[string]struct{}{}
	for _, msg := range msgs {
		if msg.Deleted {
			continue
		}
		for _, m := range memberMentionRe.FindAllStringSubmatch(msg.Content, -1) {
			memberSet[m[1]] = struct{}{}
		}
		for _, m := range channelMentionRe.FindAllStringSubmatch(msg.Content, -1) {
			channelSet[m[1]] = struct{}{}
		}
	}
	for id := range memberSet {
		memberIDs = append(memberIDs, id)
	}
	for id := range channelSet {
		channelIDs = append(channelIDs, id)
	}
	return memberIDs, channelIDs
}

// Enrich renders a window as the transcript that gets embedded:
// channel header plus one attributed, timestamped line per message.
// Deleted messages never appear.
func Enrich(channelName string, msgs []Message, mentions Mentions) string {
	var b strings.Builder
	b.WriteString("Conversation in #")
	b.WriteString(channelName)
	b.WriteString(":\n")
	for _, msg := range msgs {
		if msg.Deleted {
			continue
		}
		b.WriteString("[")
		b.WriteString(msg.Author)
		b.WriteString(" @ ")
		b.WriteString(msg.CreatedAt.UTC().Format("2006-01-02 15:04"))
		b.WriteString("]: ")
		b.WriteString(CleanContent(msg.Content, mentions))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
