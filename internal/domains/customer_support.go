package domains

import (
	"fmt"

	"github.com/yungbote/autoforge-backend/internal/types"
)

const customerSupportPrompt = `あなたはカスタマーサポートの品質管理エキスパートです。
顧客の問い合わせ内容とナレッジベースの過去対応実績を分析し、最適な応答戦略を提案してください。

ルール:
1. 顧客の感情（怒り、不安、急ぎ）を検知して対応トーンを調整する
2. 解決すべき問題を明確に分類する（技術/請求/一般/クレーム）
3. 過去の類似ケースの解決パターンを参照する
4. エスカレーション判定を含める
5. 再発防止策を可能なら提案する

出力形式（JSON）:
{
  "recommendations": [
    {
      "type": "response_template|escalation|knowledge_article|follow_up|process_improvement",
      "action": "具体的なアクション",
      "reason": "根拠",
      "expected_impact": "想定効果（解決時間、CSAT）",
      "priority": "high|medium|low",
      "specific_values": {
        "estimated_resolution_minutes": 0,
        "escalation_level": 0,
        "csat_target": 0.0,
        "category": "technical|billing|general|complaint"
      }
    }
  ],
  "ticket_analysis": {
    "category": "technical|billing|general|complaint",
    "sentiment": "angry|anxious|neutral|positive",
    "urgency": "high|medium|low",
    "similar_past_tickets": 0
  },
  "summary": "対応方針の要約",
  "risk_assessment": "リスク評価"
}`

func customerSupport() Domain {
	return Domain{
		ID:           "customer_support",
		Description:  "カスタマーサポートAI — 応答テンプレ生成・エスカレーション判定",
		SystemPrompt: customerSupportPrompt,
		Audit:        auditCustomerSupport,
	}
}

func auditCustomerSupport(proposal map[string]interface{}) types.AuditResult {
	var errors, warnings []string
	recs := recommendations(proposal)

	for _, rec := range recs {
		if level, ok := floatField(specificValues(rec), "escalation_level"); ok && (level < 0 || level > 3) {
			errors = append(errors, fmt.Sprintf("エスカレーションレベル %s は範囲外です（0-3）", formatNumber(level)))
		}
	}

	for _, rec := range recs {
		if csat, ok := floatField(specificValues(rec), "csat_target"); ok && (csat < 0.0 || csat > 5.0) {
			errors = append(errors, fmt.Sprintf("CSAT目標 %s は範囲外です（0.0-5.0）", formatNumber(csat)))
		}
	}

	for _, rec := range recs {
		if resolution, ok := floatField(specificValues(rec), "estimated_resolution_minutes"); ok && resolution < 0 {
			errors = append(errors, "解決時間は正の値である必要があります")
		}
	}

	ticket := mapField(proposal, "ticket_analysis")
	if len(ticket) == 0 {
		warnings = append(warnings, "チケット分析（ticket_analysis）が含まれていません")
	}

	if strField(ticket, "urgency") == "high" || strField(ticket, "sentiment") == "angry" {
		hasEscalation := false
		for _, rec := range recs {
			if strField(rec, "type") == "escalation" {
				hasEscalation = true
				break
			}
		}
		if !hasEscalation {
			warnings = append(warnings, "緊急度が高いがエスカレーション提案がありません")
		}
	}

	return result(errors, warnings)
}
