package normalize

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// 受限 markdown 的替换规则。顺序敏感：
//   - 三级标题先于二级标题（否则 ## 会吃掉 ### 行的前缀）；
//   - 行内代码与显式链接先提取为占位符，避免被后续规则二次改写；
//   - 粗体先于斜体，保证 **a*b*c** 整段加粗而不是在内部单星号处提前闭合；
//   - 显式链接先于裸 URL 自动链接，避免双重包裹（RE2 没有环视，用占位符实现）。
var (
	h3Re     = regexp.MustCompile(`(?m)^### (.+)$`)
	h2Re     = regexp.MustCompile(`(?m)^## (.+)$`)
	codeRe   = regexp.MustCompile("`([^`\n]+)`")
	linkRe   = regexp.MustCompile(`\[([^\[\]]+)\]\((https?://[^\s)]+)\)`)
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe = regexp.MustCompile(`\*([^*\n]+)\*`)
	bareRe   = regexp.MustCompile(`https?://[^\s<]+`)
)

// Render 将归一化后的文本渲染为受限的 HTML 标记。
// 与原始实现不同，这里先做 HTML 转义再做替换，输出不再携带未经处理的用户标记。
func Render(text string) string {
	out := html.EscapeString(text)

	// 标题（行首），三级先行
	out = h3Re.ReplaceAllString(out, "<h3>$1</h3>")
	out = h2Re.ReplaceAllString(out, "<h2>$1</h2>")

	// 提取行内代码与显式链接为占位符
	var stash []string
	stashToken := func(s string) string {
		stash = append(stash, s)
		return fmt.Sprintf("\x00%d\x00", len(stash)-1)
	}
	out = codeRe.ReplaceAllStringFunc(out, func(m string) string {
		inner := codeRe.FindStringSubmatch(m)[1]
		return stashToken("<code>" + inner + "</code>")
	})
	out = linkRe.ReplaceAllStringFunc(out, func(m string) string {
		parts := linkRe.FindStringSubmatch(m)
		return stashToken(fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener">%s</a>`, parts[2], parts[1]))
	})

	// 粗体先于斜体
	out = boldRe.ReplaceAllString(out, "<strong>$1</strong>")
	out = italicRe.ReplaceAllString(out, "<em>$1</em>")

	// 裸 URL 自动链接（显式链接已被占位符保护）
	out = bareRe.ReplaceAllStringFunc(out, func(u string) string {
		return fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener">%s</a>`, u, u)
	})

	// 还原占位符
	for i, s := range stash {
		out = strings.Replace(out, fmt.Sprintf("\x00%d\x00", i), s, 1)
	}

	return strings.ReplaceAll(out, "\n", "<br>")
}
