package model

import "time"

// Advisory は交通事業者の運行情報フィードから取得した1件のお知らせを表す。
// SummaryHTMLはサニタイズ済みのHTML。
type Advisory struct {
	Source      string    `json:"source"` // フィードのタイトル（事業者名）
	Title       string    `json:"title"`
	SummaryHTML string    `json:"summary"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"publishedAt"`
}
