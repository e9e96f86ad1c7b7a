package domains

import (
	"fmt"
	"strings"

	"github.com/yungbote/autoforge-backend/internal/types"
)

const adOptimizationPrompt = `あなたは広告運用の上級コンサルタントです。
以下のルールに従って提案を生成してください：

1. 「守り」だけでなく「攻め」の提案を必ず含める（入札引き上げ、新KW追加等）
2. 具体的な数値（入札額、予算額、想定CPA）を含める
3. 季節・天候・地域の特性を考慮する
4. 過去の成功パターンがあれば必ず参照する

出力形式（JSON）:
{
  "recommendations": [
    {
      "type": "bid_adjustment|keyword_add|keyword_exclude|budget_change|targeting",
      "action": "具体的なアクション",
      "reason": "根拠",
      "expected_impact": "想定効果",
      "priority": "high|medium|low",
      "specific_values": {}
    }
  ],
  "summary": "全体の方針要約",
  "risk_assessment": "リスク評価"
}`

func adOptimization() Domain {
	return Domain{
		ID:           "ad_optimization",
		Description:  "広告運用の最適化提案（入札、KW、予算、ターゲティング）",
		SystemPrompt: adOptimizationPrompt,
		Audit:        auditAdOptimization,
	}
}

var offensiveAdTypes = map[string]bool{
	"bid_adjustment": true,
	"keyword_add":    true,
	"targeting":      true,
	"budget_change":  true,
}

func auditAdOptimization(proposal map[string]interface{}) types.AuditResult {
	var errors, warnings []string
	recs := recommendations(proposal)

	hasOffensive := false
	for _, rec := range recs {
		action := strField(rec, "action")
		if offensiveAdTypes[strField(rec, "type")] &&
			!strings.Contains(action, "引き下げ") &&
			!strings.Contains(action, "削減") {
			hasOffensive = true
			break
		}
	}
	if !hasOffensive {
		warnings = append(warnings, "全ての提案が守備的です。攻めの提案を追加してください。")
	}

	missingValues := 0
	for _, rec := range recs {
		if len(specificValues(rec)) == 0 {
			missingValues++
		}
	}
	if missingValues > 0 {
		warnings = append(warnings, fmt.Sprintf("%d件の提案に具体的な数値がありません", missingValues))
	}

	for _, rec := range recs {
		if bidChange, ok := floatField(specificValues(rec), "bid_change_percent"); ok && abs(bidChange) > 50 {
			errors = append(errors, fmt.Sprintf("入札変更率が%s%%は極端すぎます（上限±50%%）", formatNumber(bidChange)))
		}
	}

	for _, rec := range recs {
		if budgetChange, ok := floatField(specificValues(rec), "budget_change_percent"); ok && abs(budgetChange) > 30 {
			warnings = append(warnings, fmt.Sprintf("予算変更率%s%%は急激です（推奨±30%%以内）", formatNumber(budgetChange)))
		}
	}

	return result(errors, warnings)
}
