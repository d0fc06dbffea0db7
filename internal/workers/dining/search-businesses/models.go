// internal/workers/dining/search-businesses/models.go
package searchbusinesses

import "dinner-workers/internal/models"

type Input struct {
	Query *models.QueryModel `json:"query"`
}

type Output struct {
	Candidates []models.Candidate `json:"candidates"`
	Partial    bool               `json:"partial"`
	Warnings   []string           `json:"warnings,omitempty"`
	Dropped    int                `json:"dropped"`
	Total      int                `json:"total"`
	NextCursor string             `json:"nextCursor,omitempty"`
	Cached     bool               `json:"cached"`
}

// wire format of GET /businesses/search

type searchResponse struct {
	Businesses []business `json:"businesses"`
	Total      int        `json:"total"`
}

type business struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Rating       *float64     `json:"rating"`
	ReviewCount  int          `json:"review_count"`
	Price        string       `json:"price"`
	Categories   []category   `json:"categories"`
	Coordinates  *coordinates `json:"coordinates"`
	Distance     float64      `json:"distance"`
	URL          string       `json:"url"`
	ImageURL     string       `json:"image_url"`
	DisplayPhone string       `json:"display_phone"`
	IsClosed     bool         `json:"is_closed"`
	Location     *location    `json:"location"`
	Transactions []string     `json:"transactions"`
}

type category struct {
	Alias string `json:"alias"`
	Title string `json:"title"`
}

type coordinates struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type location struct {
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	Address3 string `json:"address3"`
	City     string `json:"city"`
	State    string `json:"state"`
	ZipCode  string `json:"zip_code"`
}
