package transcription

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/aarutech20/indicVoice/internal/audio"
)

const fallbackLanguage = "hi"

var demoPhrases = map[string][]string{
	"hi": {"नमस्ते, मैं हिंदी में बोल रहा हूं", "यह एक परीक्षण है", "आपका स्वागत है"},
	"bn": {"নমস্কার, আমি বাংলায় কথা বলছি", "এটি একটি পরীক্ষা", "আপনাকে স্বাগতম"},
	"ta": {"வணக்கம், நான் தமிழில் பேசுகிறேன்", "இது ஒரு சோதனை", "உங்களை வரவேற்கிறோம்"},
	"te": {"నమస్కారం, నేను తెలుగులో మాట్లాడుతున్నాను", "ఇది ఒక పరీక్ష", "మీకు స్వాగతం"},
	"gu": {"નમસ્તે, હું ગુજરાતીમાં બોલી રહ્યો છું", "આ એક પરીક્ષણ છે", "તમારું સ્વાગત છે"},
	"mr": {"नमस्कार, मी मराठीत बोलत आहे", "ही एक चाचणी आहे", "तुमचे स्वागत आहे"},
	"pa": {"ਸਤ ਸ੍ਰੀ ਅਕਾਲ, ਮੈਂ ਪੰਜਾਬੀ ਵਿੱਚ ਬੋਲ ਰਿਹਾ ਹਾਂ", "ਇਹ ਇੱਕ ਟੈਸਟ ਹੈ", "ਤੁਹਾਡਾ ਸੁਆਗਤ ਹੈ"},
	"kn": {"ನಮಸ್ಕಾರ, ನಾನು ಕನ್ನಡದಲ್ಲಿ ಮಾತನಾಡುತ್ತಿದ್ದೇನೆ", "ಇದು ಒಂದು ಪರೀಕ್ಷೆ", "ನಿಮಗೆ ಸ್ವಾಗತ"},
	"ml": {"നമസ്കാരം, ഞാൻ മലയാളത്തിൽ സംസാരിക്കുന്നു", "ഇത് ഒരു പരീക്ഷണമാണ്", "നിങ്ങളെ സ്വാഗതം ചെയ്യുന്നു"},
	"or": {"ନମସ୍କାର, ମୁଁ ଓଡ଼ିଆରେ କହୁଛି", "ଏହା ଏକ ପରୀକ୍ଷା", "ଆପଣଙ୍କୁ ସ୍ୱାଗତ"},
	"as": {"নমস্কাৰ, মই অসমীয়াত কৈছো", "এইটো এটা পৰীক্ষা", "আপোনাক স্বাগতম"},
	"ur": {"السلام علیکم، میں اردو میں بول رہا ہوں", "یہ ایک ٹیسٹ ہے", "آپ کا خیر مقدم"},
}

// DemoConfig sets the simulated inference latency range.
type DemoConfig struct {
	MinLatency time.Duration
	MaxLatency time.Duration
}

// DemoEngine returns a random canned phrase for the requested language.
// Languages without phrases fall back to Hindi.
type DemoEngine struct {
	minLatency time.Duration
	maxLatency time.Duration
}

var _ Engine = (*DemoEngine)(nil)

// NewDemoEngine creates a demo engine. Zero latencies disable the delay.
func NewDemoEngine(cfg DemoConfig) *DemoEngine {
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	return &DemoEngine{minLatency: cfg.MinLatency, maxLatency: cfg.MaxLatency}
}

// Transcribe implements Engine.
func (e *DemoEngine) Transcribe(ctx context.Context, samples []float32, _ int, languageCode string) (*Transcript, error) {
	if delay := e.latency(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if audio.IsSilent(samples) {
		return &Transcript{}, nil
	}

	phrases, ok := demoPhrases[languageCode]
	if !ok {
		phrases = demoPhrases[fallbackLanguage]
	}
	return &Transcript{Text: phrases[rand.IntN(len(phrases))]}, nil
}

func (e *DemoEngine) latency() time.Duration {
	spread := e.maxLatency - e.minLatency
	if spread <= 0 {
		return e.minLatency
	}
	return e.minLatency + rand.N(spread)
}

// Ready implements Engine. The demo engine is always loaded.
func (e *DemoEngine) Ready(context.Context) bool { return true }

// Name implements Engine.
func (e *DemoEngine) Name() string { return "demo" }
