package services

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yunzhen-health/tcm-advisor/internal/types"
)

//go:embed prompts.yaml
var promptProfilesYAML []byte

type generationProfile struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type promptProfiles struct {
	Diagnose  generationProfile
	Prescribe generationProfile
	Question  generationProfile
	Knowledge generationProfile
}

type yamlProfileSpec struct {
	Profiles map[string]generationProfile `yaml:"profiles"`
}

func loadPromptProfiles() (promptProfiles, error) {
	var spec yamlProfileSpec
	if err := yaml.Unmarshal(promptProfilesYAML, &spec); err != nil {
		return promptProfiles{}, fmt.Errorf("parse prompt profiles: %w", err)
	}

	out := promptProfiles{
		Diagnose:  generationProfile{Temperature: 0.7, MaxTokens: 2000},
		Prescribe: generationProfile{Temperature: 0.5, MaxTokens: 1500},
		Question:  generationProfile{Temperature: 0.3, MaxTokens: 1000},
		Knowledge: generationProfile{Temperature: 0.2, MaxTokens: 1200},
	}
	for name, p := range spec.Profiles {
		if p.MaxTokens <= 0 || p.Temperature < 0 || p.Temperature > 1 {
			return promptProfiles{}, fmt.Errorf("prompt profile %q out of range", name)
		}
		switch name {
		case "diagnose":
			out.Diagnose = p
		case "prescribe":
			out.Prescribe = p
		case "question":
			out.Question = p
		case "knowledge":
			out.Knowledge = p
		default:
			return promptProfiles{}, fmt.Errorf("unknown prompt profile %q", name)
		}
	}
	return out, nil
}

const diagnoseSystemPrompt = `你是一位经验丰富的中医专家，擅长通过症状、脉象、舌象等信息进行中医诊断。
请根据患者提供的信息，按照中医理论进行分析和诊断。

诊断要求：
1. 分析病因病机
2. 判断证型
3. 给出中医诊断结论
4. 提供治疗建议
5. 推荐中药方剂
6. 给出生活调护建议

请以专业、详细、易懂的方式回答，确保诊断准确可靠。`

const prescribeSystemPrompt = `你是一位经验丰富的中医师，擅长根据诊断结果开具中药处方。
请根据诊断结果，推荐合适的中药方剂，包括：

1. 主方推荐（包含具体药材和剂量）
2. 加减变化建议
3. 煎服方法
4. 注意事项
5. 疗程建议

请确保处方安全有效，剂量合理。`

const questionSystemPrompt = `你是一位中医知识专家，精通中医理论、诊断、治疗、方剂等各个方面。
请准确、专业地回答用户关于中医的问题，回答要：

1. 基于中医理论
2. 准确可靠
3. 通俗易懂
4. 实用性强

如果问题超出中医范畴，请礼貌地说明。`

const knowledgeSystemPrompt = `你是一个中医知识库检索服务。根据用户的检索条件返回知识条目。
只输出一个合法的JSON对象，不要包含markdown或其他说明文字。格式：
{"items":[{"id":"字符串","category":"theory|diagnosis|treatment|formula|herb","title":"标题","content":"正文","tags":["标签"],"likes":0}],"total":0}
其中total是满足条件的条目总数，items只包含请求页的数据。`

// buildDiagnoseUserPrompt interpolates patient fields; missing optionals are
// rendered as 无/未提供 so the prompt shape stays constant.
func buildDiagnoseUserPrompt(req types.DiagnosisRequest) string {
	history := strings.TrimSpace(req.PatientInfo.MedicalHistory)
	if history == "" {
		history = "无"
	}
	allergies := strings.Join(req.PatientInfo.Allergies, ", ")
	if allergies == "" {
		allergies = "无"
	}
	medications := strings.Join(req.PatientInfo.CurrentMedications, ", ")
	if medications == "" {
		medications = "无"
	}
	pulse := strings.TrimSpace(req.Pulse)
	if pulse == "" {
		pulse = "未提供"
	}
	tongue := strings.TrimSpace(req.Tongue)
	if tongue == "" {
		tongue = "未提供"
	}

	return fmt.Sprintf(`患者信息：
年龄：%d岁
性别：%s
既往病史：%s
过敏史：%s
当前用药：%s

症状描述：%s
脉象：%s
舌象：%s

请根据中医理论进行详细诊断。`,
		req.PatientInfo.Age,
		req.PatientInfo.Gender,
		history,
		allergies,
		medications,
		req.Symptoms,
		pulse,
		tongue,
	)
}

func buildPrescribeUserPrompt(diagnosis string, syndromeType string, info types.PatientInfo) string {
	var b strings.Builder
	b.WriteString("诊断结果：")
	b.WriteString(diagnosis)
	b.WriteString("\n")
	if s := strings.TrimSpace(syndromeType); s != "" {
		b.WriteString("证型：")
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("患者信息：年龄%d岁，性别%s", info.Age, info.Gender))
	if h := strings.TrimSpace(info.MedicalHistory); h != "" {
		b.WriteString("，既往病史：")
		b.WriteString(h)
	}
	if len(info.Allergies) > 0 {
		b.WriteString("，过敏史：")
		b.WriteString(strings.Join(info.Allergies, ", "))
	}
	if len(info.CurrentMedications) > 0 {
		b.WriteString("，当前用药：")
		b.WriteString(strings.Join(info.CurrentMedications, ", "))
	}
	b.WriteString("\n\n请推荐合适的中药方剂。")
	return b.String()
}
