// Package wire 实现网络消息使用的极简 JSON 编解码。
// 语法刻意宽容：空输入解析为空对象，结尾多余字符被忽略，
// 结构损坏时返回已解析的部分结果而不是报错。
// 不依赖 encoding/json，保证丢弃坏包而不是让管线崩溃。
package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ==================== 编码 ====================

// Encode 将对象编码为单行 JSON 文本，键按插入顺序无保证（map 遍历序）
func Encode(obj map[string]any) string {
	var sb strings.Builder
	encodeMap(&sb, obj)
	return sb.String()
}

func encodeMap(sb *strings.Builder, m map[string]any) {
	sb.WriteByte('{')
	first := true
	for k, v := range m {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteByte('"')
		sb.WriteString(escape(k))
		sb.WriteString("\":")
		encodeValue(sb, v)
	}
	sb.WriteByte('}')
}

func encodeList(sb *strings.Builder, list []any) {
	sb.WriteByte('[')
	for i, v := range list {
		if i > 0 {
			sb.WriteByte(',')
		}
		encodeValue(sb, v)
	}
	sb.WriteByte(']')
}

func encodeValue(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		sb.WriteByte('"')
		sb.WriteString(escape(val))
		sb.WriteByte('"')
	case int:
		sb.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		sb.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		sb.WriteString(strconv.FormatInt(val, 10))
	case float32:
		encodeFloat(sb, float64(val))
	case float64:
		encodeFloat(sb, val)
	case []any:
		encodeList(sb, val)
	case map[string]any:
		encodeMap(sb, val)
	default:
		// 未知类型按字符串兜底
		sb.WriteByte('"')
		sb.WriteString(escape(fmt.Sprint(val)))
		sb.WriteByte('"')
	}
}

// encodeFloat 浮点始终带小数部分（5 → "5.0"），解码后类型不漂移
func encodeFloat(sb *strings.Builder, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		sb.WriteString("0.0")
		return
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	sb.WriteString(s)
}

func escape(s string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		"\"", "\\\"",
		"\n", "\\n",
		"\r", "\\r",
		"\t", "\\t",
	)
	return r.Replace(s)
}

// ==================== 解码 ====================

// Decode 解析单个 JSON 对象。空输入返回空 map；
// 完整对象之后的多余字符被忽略；坏输入返回已解析的部分
func Decode(text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]any{}
	}
	p := &parser{src: text}
	return p.parseObject()
}

type parser struct {
	src string
	pos int
}

func (p *parser) parseObject() map[string]any {
	m := map[string]any{}
	p.skipSpace()

	if p.pos >= len(p.src) || p.src[p.pos] != '{' {
		return m
	}
	p.pos++ // '{'

	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '}' {
		p.pos++
		return m
	}

	for p.pos < len(p.src) {
		p.skipSpace()

		key := p.parseString()

		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ':' {
			break
		}
		p.pos++ // ':'

		p.skipSpace()
		m[key] = p.parseValue()

		p.skipSpace()
		if p.pos >= len(p.src) {
			break
		}
		switch p.src[p.pos] {
		case '}':
			p.pos++
			return m
		case ',':
			p.pos++
		}
	}
	return m
}

func (p *parser) parseArray() []any {
	list := []any{}
	p.pos++ // '['

	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ']' {
		p.pos++
		return list
	}

	for p.pos < len(p.src) {
		p.skipSpace()
		list = append(list, p.parseValue())

		p.skipSpace()
		if p.pos >= len(p.src) {
			break
		}
		switch p.src[p.pos] {
		case ']':
			p.pos++
			return list
		case ',':
			p.pos++
		}
	}
	return list
}

func (p *parser) parseValue() any {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil
	}

	c := p.src[p.pos]
	switch {
	case c == '"':
		return p.parseString()
	case c == '{':
		return p.parseObject()
	case c == '[':
		return p.parseArray()
	case c == 't' || c == 'f':
		return p.parseBool()
	case c == 'n':
		return p.parseNull()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	}
	return nil
}

func (p *parser) parseString() string {
	if p.pos >= len(p.src) || p.src[p.pos] != '"' {
		return ""
	}
	p.pos++ // 开引号

	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '"' {
			p.pos++
			break
		}
		if c == '\\' && p.pos+1 < len(p.src) {
			p.pos++
			switch p.src[p.pos] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte(p.src[p.pos])
			}
		} else {
			sb.WriteByte(c)
		}
		p.pos++
	}
	return sb.String()
}

// parseNumber 无小数/指数部分解析为 int64，否则为 float64
func (p *parser) parseNumber() any {
	start := p.pos
	isFloat := false

	if p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c >= '0' && c <= '9':
			p.pos++
		case c == '.' || c == 'e' || c == 'E':
			isFloat = true
			p.pos++
		case c == '+' || c == '-':
			p.pos++
		default:
			goto done
		}
	}
done:
	numStr := p.src[start:p.pos]
	if isFloat {
		f, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return int64(0)
		}
		return f
	}
	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return int64(0)
	}
	return n
}

func (p *parser) parseBool() any {
	if strings.HasPrefix(p.src[p.pos:], "true") {
		p.pos += 4
		return true
	}
	if strings.HasPrefix(p.src[p.pos:], "false") {
		p.pos += 5
		return false
	}
	return false
}

func (p *parser) parseNull() any {
	if strings.HasPrefix(p.src[p.pos:], "null") {
		p.pos += 4
	}
	return nil
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

// ==================== 带默认值的取值 ====================
// 调用方自行校验必需字段，缺失/类型不符时落回默认值

func GetString(m map[string]any, key, def string) string {
	if v, ok := m[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return def
}

func GetInt(m map[string]any, key string, def int) int {
	return int(GetInt64(m, key, int64(def)))
}

func GetInt64(m map[string]any, key string, def int64) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func GetFloat(m map[string]any, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func GetBool(m map[string]any, key string, def bool) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return def
}

func GetArray(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return []any{}
}

func GetObject(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}
