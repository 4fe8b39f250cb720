package topic

import "strings"

// Label 表示用户话语的主题类别。
type Label string

const (
	Neutral Label = "neutral"
	Tired   Label = "tired"
	Happy   Label = "happy"
	Sad     Label = "sad"
	Food    Label = "food"
	Work    Label = "work"
	News    Label = "news"
)

// Decision 给出主题识别结果与命中得分。
type Decision struct {
	Topic Label
	Score int
}

// priority breaks score ties; earlier labels win.
var priority = []Label{Tired, Happy, Sad, Food, Work, News}

var keywordBuckets = map[Label][]string{
	Tired: {"累", "疲惫", "辛苦", "困", "加班", "熬夜", "tired", "exhausted"},
	Happy: {"开心", "高兴", "快乐", "太好了", "太棒了", "哈哈", "happy", "great"},
	Sad:   {"难过", "伤心", "沮丧", "失落", "委屈", "孤单", "sad", "upset"},
	Food:  {"吃", "饭", "饿", "外卖", "零食", "hungry"},
	Work:  {"工作", "学习", "考试", "上班", "作业", "项目", "work", "study"},
	News:  {"新闻", "资讯", "热搜", "news"},
}

// Classify 根据关键词命中数推断主题，未命中时返回 Neutral。
func Classify(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Topic: Neutral}
	}

	best := Decision{Topic: Neutral}
	for _, label := range priority {
		score := 0
		for _, word := range keywordBuckets[label] {
			if strings.Contains(normalized, word) {
				score += 3
			}
		}
		if score > best.Score {
			best = Decision{Topic: label, Score: score}
		}
	}

	// 感叹号加强正向情绪
	if best.Topic == Happy {
		best.Score += strings.Count(text, "!") + strings.Count(text, "！")
	}
	return best
}
