// Package normalize 将历史上三种互不兼容的消息存储形态归一化为统一的
// {role, text} 形状，并提供受限的 markdown 渲染。所有函数都是纯函数，
// 解析过程中的任何异常都在内部吞掉，归一化永远给出尽力而为的结果。
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Normalized 是消息归一化之后的规范形状。
type Normalized struct {
	Role string
	Text string
}

// 结构化消息体中 type 判别字段的取值（LangChain/n8n 风格）。
const (
	typeHuman = "human"
	typeAI    = "ai"
)

// Message 按优先级归一化一条原始消息内容：
//  1. 已经是结构化对象：role 取自 type 判别字段（human→user，ai→assistant），
//     text 取 content 字段，缺失时退化为对象的字符串化。
//  2. 形如 JSON 的字符串（以 { 开头）：尝试解析后套用规则 1，解析失败则按纯文本处理。
//  3. 其他：text 原样返回，role 回退到记录上显式的 role 列，默认 user。
func Message(raw any, fallbackRole string) Normalized {
	switch v := raw.(type) {
	case map[string]any:
		return fromObject(v, fallbackRole)
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "{") {
			var obj map[string]any
			if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj != nil {
				return fromObject(obj, fallbackRole)
			}
			// 解析失败：按纯文本兜底
		}
		return Normalized{Role: roleFrom(fallbackRole), Text: v}
	case nil:
		return Normalized{Role: roleFrom(fallbackRole), Text: ""}
	default:
		return Normalized{Role: roleFrom(fallbackRole), Text: fmt.Sprintf("%v", v)}
	}
}

// fromObject 套用规则 1：从结构化对象中提取角色与文本。
func fromObject(obj map[string]any, fallbackRole string) Normalized {
	role := roleFrom(fallbackRole)
	if t, ok := obj["type"].(string); ok {
		switch t {
		case typeAI:
			role = RoleAssistant
		case typeHuman:
			role = RoleUser
		}
	}

	if c, ok := obj["content"].(string); ok {
		return Normalized{Role: role, Text: c}
	}
	// content 缺失或不是字符串：退化为对象的序列化形式
	b, err := json.Marshal(obj)
	if err != nil {
		return Normalized{Role: role, Text: fmt.Sprintf("%v", obj)}
	}
	return Normalized{Role: role, Text: string(b)}
}

// 归一化之后的角色取值。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// roleFrom 把记录上显式的 role 列映射到规范角色，默认 user。
func roleFrom(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleAssistant, typeAI:
		return RoleAssistant
	default:
		return RoleUser
	}
}
