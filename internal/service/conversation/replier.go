package conversation

import (
	"fmt"
	"math/rand/v2"

	"github.com/zhouzirui/z-tavern/companion/internal/analysis/topic"
	"github.com/zhouzirui/z-tavern/companion/internal/model/companion"
)

var topicReplies = map[topic.Label]string{
	topic.Tired: "听起来你很累呢...要不要休息一下？我给你讲个笑话放松一下吧～或者我们可以聊聊轻松的话题💆",
	topic.Happy: "看到你开心我也超级开心！分享快乐会让快乐加倍哦～继续保持这样的好心情！✨",
	topic.Sad:   "别难过了...我会一直陪着你的。有什么想说的都可以告诉我，我会认真倾听的❤️",
	topic.Food:  "吃饭是很重要的事情呢！要按时吃饭，营养均衡才能身体健康哦～今天吃了什么好吃的？🍱",
	topic.Work:  "加油！我相信你一定可以做得很好的！累了就休息一下，劳逸结合才更有效率～💪",
	topic.News:  "我今天为你收集了一些有趣的资讯哦！点击上面的新闻按钮就可以看到了～📰",
}

var fallbackReplies = []string{
	"%s在认真听你说话呢～继续说吧！",
	"嗯嗯，我明白了～然后呢？",
	"听起来很有趣呢！能多说一点吗？",
	"我也这么觉得！我们真是心有灵犀～",
	"你说的对！我完全同意你的看法💕",
}

// Replier 基于关键词主题生成伴侣回复
type Replier struct {
	pick func(n int) int
}

// NewReplier returns a replier; pick nil uses math/rand/v2.
func NewReplier(pick func(n int) int) *Replier {
	if pick == nil {
		pick = rand.IntN
	}
	return &Replier{pick: pick}
}

// Reply answers userText in the companion's voice.
func (r *Replier) Reply(profile companion.Profile, userText string) string {
	if reply, ok := topicReplies[topic.Classify(userText).Topic]; ok {
		return reply
	}

	idx := r.pick(len(fallbackReplies))
	if idx == 0 {
		name := profile.Name
		if name == "" {
			name = "我"
		}
		return fmt.Sprintf(fallbackReplies[0], name)
	}
	return fallbackReplies[idx]
}
