package companion

import (
	"fmt"
	"time"
)

// Personality 对应创建向导里的性格选项，后端以 0-5 的整数下发。
type Personality int

const (
	Caring Personality = iota
	Cheerful
	Intellectual
	Humorous
	Calm
	Romantic
)

var personalityNames = [...]string{"caring", "cheerful", "intellectual", "humorous", "calm", "romantic"}

func (p Personality) String() string {
	if p < 0 || int(p) >= len(personalityNames) {
		return personalityNames[Caring]
	}
	return personalityNames[p]
}

// Profile captures the companion attributes the chat client reads.
type Profile struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	Name        string      `json:"name"`
	Image       string      `json:"image,omitempty"`
	Gender      int         `json:"gender"`
	Personality Personality `json:"personality"`
	Interests   []string    `json:"interests,omitempty"`
	VoiceStyle  int         `json:"voiceStyle"`
}

// Greeting returns the opening line for an empty transcript.
func (p Profile) Greeting(now time.Time) string {
	timeGreeting := "晚上好"
	switch hour := now.Hour(); {
	case hour < 12:
		timeGreeting = "早上好"
	case hour < 18:
		timeGreeting = "下午好"
	}

	switch p.Personality {
	case Cheerful:
		return fmt.Sprintf("%s！哇，终于等到你啦！今天想和我聊什么呢？😊", timeGreeting)
	case Intellectual:
		return fmt.Sprintf("%s，很高兴见到你。今天有什么想分享的吗？", timeGreeting)
	case Humorous:
		return fmt.Sprintf("%s～猜猜我今天为你准备了什么惊喜？哈哈，就是我自己！😄", timeGreeting)
	case Calm:
		return fmt.Sprintf("%s，希望你今天一切顺利。", timeGreeting)
	case Romantic:
		return fmt.Sprintf("%s我的挚爱，每一刻都在期待与你相遇✨", timeGreeting)
	default:
		return fmt.Sprintf("%s亲爱的～今天过得怎么样呀？我一直在想你呢💕", timeGreeting)
	}
}

// Seed provides demo companions for the local stand-in backend.
func Seed(userID string) []Profile {
	return []Profile{
		{
			ID:          "xiaoyu",
			UserID:      userID,
			Name:        "小雨",
			Gender:      1,
			Personality: Caring,
			Interests:   []string{"音乐", "电影", "美食"},
			VoiceStyle:  0,
		},
		{
			ID:          "ahao",
			UserID:      userID,
			Name:        "阿浩",
			Gender:      0,
			Personality: Humorous,
			Interests:   []string{"运动", "游戏", "科技"},
			VoiceStyle:  1,
		},
	}
}
