package chat

import (
	"fmt"
	"strings"

	"rhythm/functions"
)

const assistantRole = "You are Rhythm, an assistant that answers questions about the user's music listening history."

// BuildSystemPrompt describes the loaded dataset and lists the tools the
// model may call. Only tool names are listed; the schemas travel separately.
func BuildSystemPrompt(streams []functions.Stream, toolNames []string) string {
	var b strings.Builder
	b.WriteString(assistantRole)
	b.WriteString("\n\n")
	b.WriteString(describeDataset(streams))

	if len(toolNames) > 0 {
		fmt.Fprintf(&b, "\n\nTOOLS: %s\n\n", strings.Join(toolNames, ", "))
		b.WriteString("If the question needs listening data → use a tool.\n" +
			"Otherwise → answer directly.\n\n" +
			"Don't tell the user how you will use a tool. Just execute the tool call.\n\n" +
			"Never invent plays, tracks or artists that no tool returned.")
	}

	b.WriteString("\n\nSummarize what you found in a short and concise way.")
	return b.String()
}

func describeDataset(streams []functions.Stream) string {
	if len(streams) == 0 {
		return "DATASET: no streaming history is loaded. If the user asks about their listening, " +
			"tell them to set chat.streams_file in config.toml."
	}

	tracks := make(map[string]struct{})
	artists := make(map[string]struct{})
	for _, s := range streams {
		if !s.IsTrack() {
			continue
		}
		tracks[s.ArtistName+"\x00"+s.TrackName] = struct{}{}
		artists[s.ArtistName] = struct{}{}
	}

	first, last := functions.DateRange(streams)
	return fmt.Sprintf("DATASET: %d plays of %d tracks by %d artists, from %s to %s.",
		len(streams), len(tracks), len(artists),
		first.Format("Jan 2, 2006"), last.Format("Jan 2, 2006"))
}
