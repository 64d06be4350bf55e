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

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"toolforge/internal/model"
	"toolforge/internal/orchestrator"
	"toolforge/internal/tcc"
)

// 各阶段内建默认模型；可被 agentModelMapping 或任务级 selectedModel 覆盖
const (
	defaultPlannerModel   = "gpt-4o"
	defaultDesignerModel  = "gpt-4o"
	defaultAssemblerModel = "claude-3-7-sonnet"
	defaultValidatorModel = "gpt-4o-mini"
)

// decode 把校验后的 JSON 字段转成具体产物类型
func decode[T any](v any) (T, error) {
	var out T
	b, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("解析阶段产物: %w", err)
	}
	return out, nil
}

// userBrief 渲染用户输入供提示词引用
func userBrief(c *tcc.ToolConstructionContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool description: %s\n", c.UserInput.Description)
	if c.UserInput.TargetAudience != "" {
		fmt.Fprintf(&b, "Target audience: %s\n", c.UserInput.TargetAudience)
	}
	if c.UserInput.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", c.UserInput.Industry)
	}
	if c.UserInput.ToolType != "" {
		fmt.Fprintf(&b, "Tool type: %s\n", c.UserInput.ToolType)
	}
	if len(c.UserInput.Features) > 0 {
		fmt.Fprintf(&b, "Requested features: %s\n", strings.Join(c.UserInput.Features, ", "))
	}
	return b.String()
}

// artifactJSON 把已有产物序列化进提示词；失败时返回空串，不阻塞生成
func artifactJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

// SignaturePlanner 规划工具的函数签名
func SignaturePlanner() Stage {
	schema := model.Schema{Fields: []model.Field{
		{Name: "signatures", Type: model.FieldArray, Required: true,
			Description: "array of {name, parameters, returns, description}"},
	}}
	return Stage{
		Step:         tcc.StepPlanningSignatures,
		Name:         "signature_planner",
		DefaultModel: defaultPlannerModel,
		Schema:       schema,
		BuildPrompt: func(c *tcc.ToolConstructionContext) (string, string) {
			system := "You are a senior product engineer planning the core functions of an interactive web tool.\n" + schema.Describe()
			return system, userBrief(c)
		},
		BuildPatch: func(c *tcc.ToolConstructionContext, obj map[string]any) (tcc.Patch, error) {
			sigs, err := decode[[]tcc.FunctionSignature](obj["signatures"])
			if err != nil {
				return tcc.Patch{}, err
			}
			if len(sigs) == 0 {
				return tcc.Patch{}, fmt.Errorf("模型未产出任何函数签名")
			}
			return tcc.Patch{FunctionSignatures: sigs}, nil
		},
	}
}

// StateDesigner 设计工具的状态模型
func StateDesigner() Stage {
	schema := model.Schema{Fields: []model.Field{
		{Name: "variables", Type: model.FieldArray, Required: true,
			Description: "array of {name, type, initialValue, description}"},
		{Name: "functions", Type: model.FieldArray, Required: false,
			Description: "names of state-mutating functions"},
	}}
	return Stage{
		Step:         tcc.StepDesigningState,
		Name:         "state_designer",
		DefaultModel: defaultDesignerModel,
		Schema:       schema,
		BuildPrompt: func(c *tcc.ToolConstructionContext) (string, string) {
			system := "You design the reactive state for an interactive web tool.\n" + schema.Describe()
			user := userBrief(c) + "\nPlanned function signatures:\n" + artifactJSON(c.FunctionSignatures)
			return system, user
		},
		BuildPatch: func(c *tcc.ToolConstructionContext, obj map[string]any) (tcc.Patch, error) {
			design, err := decode[tcc.StateDesign](obj)
			if err != nil {
				return tcc.Patch{}, err
			}
			return tcc.Patch{StateDesign: &design}, nil
		},
	}
}

// LayoutDesigner 设计组件布局树
func LayoutDesigner() Stage {
	schema := model.Schema{Fields: []model.Field{
		{Name: "root", Type: model.FieldObject, Required: true,
			Description: "layout tree root: {element, id, label, children}"},
		{Name: "description", Type: model.FieldString, Required: false},
	}}
	return Stage{
		Step:         tcc.StepDesigningLayout,
		Name:         "layout_designer",
		DefaultModel: defaultDesignerModel,
		Schema:       schema,
		BuildPrompt: func(c *tcc.ToolConstructionContext) (string, string) {
			system := "You design the component layout tree for an interactive web tool.\n" + schema.Describe()
			user := userBrief(c) + "\nState design:\n" + artifactJSON(c.StateDesign)
			return system, user
		},
		BuildPatch: func(c *tcc.ToolConstructionContext, obj map[string]any) (tcc.Patch, error) {
			layout, err := decode[tcc.LayoutDesign](obj)
			if err != nil {
				return tcc.Patch{}, err
			}
			if layout.Root.Element == "" {
				return tcc.Patch{}, fmt.Errorf("布局根节点缺少 element")
			}
			return tcc.Patch{Layout: &layout}, nil
		},
	}
}

// StyleDesigner 生成样式映射
func StyleDesigner() Stage {
	schema := model.Schema{Fields: []model.Field{
		{Name: "theme", Type: model.FieldString, Required: false},
		{Name: "styleMap", Type: model.FieldObject, Required: true,
			Description: "map of element id to CSS declarations"},
	}}
	return Stage{
		Step:         tcc.StepApplyingStyling,
		Name:         "style_designer",
		DefaultModel: defaultDesignerModel,
		Schema:       schema,
		BuildPrompt: func(c *tcc.ToolConstructionContext) (string, string) {
			system := "You style an interactive web tool with clean, accessible CSS.\n" + schema.Describe()
			user := userBrief(c) + "\nLayout tree:\n" + artifactJSON(c.Layout)
			return system, user
		},
		BuildPatch: func(c *tcc.ToolConstructionContext, obj map[string]any) (tcc.Patch, error) {
			styling, err := decode[tcc.Styling](obj)
			if err != nil {
				return tcc.Patch{}, err
			}
			return tcc.Patch{Styling: &styling}, nil
		},
	}
}

// ComponentAssembler 组装完整组件代码
func ComponentAssembler() Stage {
	schema := model.Schema{Fields: []model.Field{
		{Name: "componentCode", Type: model.FieldString, Required: true,
			Description: "complete, self-contained component source"},
	}}
	return Stage{
		Step:         tcc.StepAssembling,
		Name:         "component_assembler",
		DefaultModel: defaultAssemblerModel,
		Schema:       schema,
		BuildPrompt: func(c *tcc.ToolConstructionContext) (string, string) {
			system := "You assemble a complete, working component from the design artifacts below.\n" + schema.Describe()
			user := userBrief(c) +
				"\nFunction signatures:\n" + artifactJSON(c.FunctionSignatures) +
				"\nState design:\n" + artifactJSON(c.StateDesign) +
				"\nLayout:\n" + artifactJSON(c.Layout) +
				"\nStyling:\n" + artifactJSON(c.Styling)
			return system, user
		},
		BuildPatch: func(c *tcc.ToolConstructionContext, obj map[string]any) (tcc.Patch, error) {
			code, _ := obj["componentCode"].(string)
			if strings.TrimSpace(code) == "" {
				return tcc.Patch{}, fmt.Errorf("模型未产出组件代码")
			}
			return tcc.Patch{AssembledCode: &code}, nil
		},
	}
}

// Validator 校验组装产物
func Validator() Stage {
	schema := model.Schema{Fields: []model.Field{
		{Name: "valid", Type: model.FieldBoolean, Required: true},
		{Name: "issues", Type: model.FieldArray, Required: false,
			Description: "array of {severity, message}; severity is error or warning"},
	}}
	return Stage{
		Step:         tcc.StepValidating,
		Name:         "validator",
		DefaultModel: defaultValidatorModel,
		Schema:       schema,
		BuildPrompt: func(c *tcc.ToolConstructionContext) (string, string) {
			system := "You review generated component code for correctness and completeness.\n" + schema.Describe()
			user := userBrief(c) + "\nComponent code:\n" + c.AssembledCode
			return system, user
		},
		BuildPatch: func(c *tcc.ToolConstructionContext, obj map[string]any) (tcc.Patch, error) {
			report, err := decode[tcc.ValidationReport](obj)
			if err != nil {
				return tcc.Patch{}, err
			}
			return tcc.Patch{ValidationReport: &report}, nil
		},
	}
}

// Finalizer 产出最终交付物
func Finalizer() Stage {
	schema := model.Schema{Fields: []model.Field{
		{Name: "title", Type: model.FieldString, Required: true,
			Description: "short human-readable tool title"},
		{Name: "componentCode", Type: model.FieldString, Required: false,
			Description: "final component source; omit to keep the assembled code as-is"},
	}}
	return Stage{
		Step:         tcc.StepFinalizing,
		Name:         "finalizer",
		DefaultModel: defaultPlannerModel,
		Schema:       schema,
		BuildPrompt: func(c *tcc.ToolConstructionContext) (string, string) {
			system := "You finalize a generated tool: name it and apply last polish to the component code.\n" + schema.Describe()
			user := userBrief(c) +
				"\nComponent code:\n" + c.AssembledCode +
				"\nValidation report:\n" + artifactJSON(c.ValidationReport)
			return system, user
		},
		BuildPatch: func(c *tcc.ToolConstructionContext, obj map[string]any) (tcc.Patch, error) {
			title, _ := obj["title"].(string)
			code, _ := obj["componentCode"].(string)
			if strings.TrimSpace(code) == "" {
				code = c.AssembledCode
			}
			if strings.TrimSpace(code) == "" {
				return tcc.Patch{}, fmt.Errorf("无可交付的组件代码")
			}
			product := tcc.FinalProduct{
				Title:         title,
				ComponentCode: code,
				FinalizedAt:   time.Now().UTC(),
			}
			return tcc.Patch{FinalProduct: &product}, nil
		},
	}
}

// Stages 全部内建阶段，按流水线顺序
func Stages() []Stage {
	return []Stage{
		SignaturePlanner(),
		StateDesigner(),
		LayoutDesigner(),
		StyleDesigner(),
		ComponentAssembler(),
		Validator(),
		Finalizer(),
	}
}

// RegisterAll 把全部内建阶段登记到处理器注册表并封闭
func RegisterAll(registry *orchestrator.Registry, runner *Runner) error {
	return RegisterAllWithModels(registry, runner, nil)
}

// RegisterAllWithModels 同 RegisterAll，defaults 按阶段名覆盖内建默认模型
// （对应配置 model.agent_models）；任务级覆盖仍优先于此处的部署级默认。
func RegisterAllWithModels(registry *orchestrator.Registry, runner *Runner, defaults map[string]string) error {
	for _, stage := range Stages() {
		if modelID, ok := defaults[stage.Name]; ok && modelID != "" {
			stage.DefaultModel = modelID
		}
		if err := registry.Register(stage.Step, runner.Handler(stage)); err != nil {
			return err
		}
	}
	registry.Seal()
	return nil
}
