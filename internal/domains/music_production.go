package domains

import (
	"fmt"

	"github.com/yungbote/autoforge-backend/internal/types"
)

const musicProductionPrompt = `あなたはプロの音楽プロデューサー兼サウンドデザイナーです。
FL Studio Mobile (FLM) のパラメータを熟知しており、ジャンル特有の制作手法に精通しています。

ナレッジベースの解析データを最優先で参照し、具体的なDAWパラメータ値で提案してください。

対応ジャンル: Psytrance, Techno, Acid, House, Drum & Bass, Ambient, Lo-Fi

出力形式（JSON）:
{
  "recommendations": [
    {
      "type": "synth_patch|drum_pattern|effect_chain|arrangement|mixing|sound_design",
      "action": "具体的なアクション",
      "reason": "根拠（ジャンル理論・KB知識）",
      "expected_impact": "想定効果（聴覚的変化）",
      "priority": "high|medium|low",
      "specific_values": {
        "bpm": 145,
        "key": "A minor",
        "synth": "3x Osc",
        "waveform": "saw",
        "filter_cutoff": 0.35,
        "filter_resonance": 0.6,
        "attack_ms": 5,
        "release_ms": 200,
        "reverb_size": 0.4,
        "delay_time_ms": 375,
        "sidechain_ratio": "4:1"
      }
    }
  ],
  "track_structure": {
    "bpm": 145,
    "key": "A minor",
    "time_signature": "4/4",
    "sections": [
      "intro_8bar", "buildup_16bar", "drop_16bar",
      "breakdown_8bar", "drop2_16bar", "outro_8bar"
    ],
    "total_bars": 72,
    "channels": ["kick", "bass", "lead", "pad", "hihat", "clap", "fx"]
  },
  "summary": "制作方針の要約",
  "genre_notes": "ジャンル固有の注意点"
}`

func musicProduction() Domain {
	return Domain{
		ID:           "music_production",
		Description:  "AI DAW プロデューサー（FL Studio Mobile 対応、マルチジャンル）",
		SystemPrompt: musicProductionPrompt,
		Audit:        auditMusicProduction,
	}
}

func auditMusicProduction(proposal map[string]interface{}) types.AuditResult {
	var errors, warnings []string
	recs := recommendations(proposal)
	track := mapField(proposal, "track_structure")

	if bpm, ok := floatField(track, "bpm"); ok && (bpm < 30 || bpm > 300) {
		errors = append(errors, fmt.Sprintf("BPM %s は範囲外です（30-300）", formatNumber(bpm)))
	}

	for _, rec := range recs {
		vals := specificValues(rec)

		if cutoff, ok := floatField(vals, "filter_cutoff"); ok && (cutoff < 0.0 || cutoff > 1.0) {
			errors = append(errors, fmt.Sprintf("filter_cutoff %s は 0.0-1.0 の範囲外です", formatNumber(cutoff)))
		}
		if reso, ok := floatField(vals, "filter_resonance"); ok && (reso < 0.0 || reso > 1.0) {
			errors = append(errors, fmt.Sprintf("filter_resonance %s は 0.0-1.0 の範囲外です", formatNumber(reso)))
		}
		if reverb, ok := floatField(vals, "reverb_size"); ok && (reverb < 0.0 || reverb > 1.0) {
			warnings = append(warnings, fmt.Sprintf("reverb_size %s は 0.0-1.0 の範囲外です", formatNumber(reverb)))
		}
	}

	if len(track) > 0 && len(listField(track, "sections")) == 0 {
		warnings = append(warnings, "track_structure にセクション定義がありません")
	}

	if n := len(listField(track, "channels")); n > 16 {
		warnings = append(warnings, fmt.Sprintf("チャンネル数 %d は FLM の制限を超える可能性があります", n))
	}

	return result(errors, warnings)
}
