package markup

import "strings"

// Steam serves chat emoticons as images under fixed asset paths. The
// mapping below covers the global emoticons seen in workshop comments;
// anything unmapped has its host prefix stripped so no raw asset URL
// leaks into Discord.
const (
	emoticonHost       = "https://community.cloudflare.steamstatic.com/economy/emoticon/"
	emoticonHostLegacy = "https://steamcommunity-a.akamaihd.net/economy/emoticon/"
)

var emoticons = map[string]string{
	"steamhappy":      ":smiley:",
	"steamsad":        ":frowning:",
	"steamfacepalm":   ":person_facepalming:",
	"steamsalty":      ":salt:",
	"steammocking":    ":stuck_out_tongue_winking_eye:",
	"steambored":      ":expressionless:",
	"steamdeadpan":    ":neutral_face:",
	"steamthis":       ":point_up:",
	"steamthumbsup":   ":thumbsup:",
	"steamthumbsdown": ":thumbsdown:",
	"steamsunny":      ":sun_with_face:",
	"steamouch":       ":grimacing:",
	"trophy":          ":trophy:",
	"heart":           ":heart:",
	"crown":           ":crown:",
	"goldenkey":       ":key:",
	"shieldstar":      ":shield:",
	"winter2019happy": ":smiley:",
}

func replaceEmoticons(s string) string {
	for name, code := range emoticons {
		s = strings.ReplaceAll(s, emoticonHost+name, code)
		s = strings.ReplaceAll(s, emoticonHostLegacy+name, code)
	}
	// Unmapped emoticons degrade to their bare asset name.
	s = strings.ReplaceAll(s, emoticonHost, "")
	s = strings.ReplaceAll(s, emoticonHostLegacy, "")
	return s
}
