package domains

import (
	"fmt"

	"github.com/yungbote/autoforge-backend/internal/types"
)

const salesPrompt = `あなたはトップ営業コンサルタントです。
クライアントデータとナレッジベースの過去実績を分析し、具体的な営業戦略を提案してください。

ルール:
1. 顧客の課題を明確に特定した上で提案する
2. 具体的な数値目標（受注確率、想定売上、ROI）を含める
3. フォローアップのタイミングとアクションを明記する
4. 競合との差別化ポイントを必ず含める
5. 過去の成功パターンをナレッジベースから参照する

出力形式（JSON）:
{
  "recommendations": [
    {
      "type": "approach_strategy|pricing|follow_up|objection_handling|upsell|competitor_analysis",
      "action": "具体的なアクション",
      "reason": "根拠（顧客分析・KB知識）",
      "expected_impact": "想定効果（受注確率、売上）",
      "priority": "high|medium|low",
      "specific_values": {
        "estimated_deal_value": 0,
        "win_probability_percent": 0,
        "follow_up_days": 0,
        "discount_max_percent": 0
      }
    }
  ],
  "customer_analysis": {
    "pain_points": ["課題1", "課題2"],
    "decision_factors": ["要因1", "要因2"],
    "budget_estimate": "推定予算",
    "timeline": "導入時期"
  },
  "summary": "営業戦略の要約",
  "risk_assessment": "リスク評価"
}`

func sales() Domain {
	return Domain{
		ID:           "sales",
		Description:  "営業AI — 商談分析・提案生成・フォローアップ戦略",
		SystemPrompt: salesPrompt,
		Audit:        auditSales,
	}
}

func auditSales(proposal map[string]interface{}) types.AuditResult {
	var errors, warnings []string
	recs := recommendations(proposal)

	for _, rec := range recs {
		if discount, ok := floatField(specificValues(rec), "discount_max_percent"); ok && discount > 40 {
			errors = append(errors, fmt.Sprintf("割引率 %s%% は上限40%%を超えています", formatNumber(discount)))
		}
	}

	for _, rec := range recs {
		if winProb, ok := floatField(specificValues(rec), "win_probability_percent"); ok && (winProb < 0 || winProb > 100) {
			errors = append(errors, fmt.Sprintf("受注確率 %s%% は範囲外です（0-100%%）", formatNumber(winProb)))
		}
	}

	if len(mapField(proposal, "customer_analysis")) == 0 {
		warnings = append(warnings, "顧客分析（customer_analysis）が含まれていません")
	}

	hasFollowUp := false
	for _, rec := range recs {
		if strField(rec, "type") == "follow_up" {
			hasFollowUp = true
			break
		}
	}
	if !hasFollowUp {
		warnings = append(warnings, "フォローアップ戦略が含まれていません")
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

	return result(errors, warnings)
}
