// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldType 结构化输出字段类型
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldObject  FieldType = "object"
	FieldArray   FieldType = "array"
)

// Field 结构化输出中的一个顶层字段
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Description string
}

// Schema 模型结构化输出的期望形状；Invoke 在返回前用它校验模型响应
type Schema struct {
	Fields []Field
}

// Describe 渲染给提示词用的 schema 说明
func (s Schema) Describe() string {
	var b strings.Builder
	b.WriteString("Respond with a single JSON object with the following fields:\n")
	for _, f := range s.Fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "- %q (%s, %s): %s\n", f.Name, f.Type, req, f.Description)
	}
	return b.String()
}

// Validate 解析模型原始输出并按 schema 校验；返回解析后的对象。
// 模型常把 JSON 包在 markdown 代码块里，先剥掉围栏再解析。
func (s Schema) Validate(raw string) (map[string]any, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("响应中未找到 JSON 对象")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return nil, fmt.Errorf("解析模型输出失败: %w", err)
	}

	for _, f := range s.Fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			if f.Required {
				return nil, fmt.Errorf("缺少必填字段 %q", f.Name)
			}
			continue
		}
		if err := checkType(f, v); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func checkType(f Field, v any) error {
	ok := false
	switch f.Type {
	case FieldString:
		_, ok = v.(string)
	case FieldNumber:
		_, ok = v.(float64)
	case FieldBoolean:
		_, ok = v.(bool)
	case FieldObject:
		_, ok = v.(map[string]any)
	case FieldArray:
		_, ok = v.([]any)
	default:
		ok = true
	}
	if !ok {
		return fmt.Errorf("字段 %q 类型不符，期望 %s，实际 %T", f.Name, f.Type, v)
	}
	return nil
}

// extractJSON 取出首个完整的顶层 JSON 对象，容忍 ``` 围栏与前后散文
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}
