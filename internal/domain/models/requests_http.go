package models

// GridPreviewRequest is bound from the query string of /api/grid/preview.
type GridPreviewRequest struct {
	CentralPrice string `query:"central_price" json:"central_price" validate:"required,numeric"`
	Delta        string `query:"delta" json:"delta" validate:"required,numeric"`
	Upper        int    `query:"upper" json:"upper" validate:"gte=0"`
	Down         int    `query:"down" json:"down" validate:"gte=0"`
}

// GridLocateRequest is bound from the query string of /api/grid/locate.
type GridLocateRequest struct {
	Price string `query:"price" json:"price" validate:"required,numeric"`
}

// ObservationsRequest is bound from the query string of /api/observations.
type ObservationsRequest struct {
	From  string `query:"from" json:"from"`
	To    string `query:"to" json:"to"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=5000"`
}
