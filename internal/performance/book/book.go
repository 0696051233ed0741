// Package book builds the requests a virtual user issues against the book
// CRUD API.
//
// Everything here is pure: the same virtual user id always produces the same
// payloads, URLs and headers, so request construction can be tested without
// a network.
package book

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Check labels recorded for each step of the CRUD sequence.
const (
	CheckCreate = "create succeeded"
	CheckRead   = "read succeeded"
	CheckUpdate = "update succeeded"
	CheckDelete = "delete succeeded"
)

// Labels returns the check labels in sequence order.
func Labels() []string {
	return []string{CheckCreate, CheckRead, CheckUpdate, CheckDelete}
}

// Book is the synthetic record sent to the API.
type Book struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	PublishedDate string `json:"published_date"`
	Genre         string `json:"genre"`
}

// NewBook returns the record for a virtual user. The updated variant prefixes
// title and author with "Updated", moves the date forward a month and swaps
// the genre.
func NewBook(id int, updated bool) Book {
	if updated {
		return Book{
			Title:         fmt.Sprintf("Updated K6 Load Test Book %d", id),
			Author:        fmt.Sprintf("Updated K6 Author %d", id),
			PublishedDate: "2024-02-01",
			Genre:         "Non-fiction",
		}
	}
	return Book{
		Title:         fmt.Sprintf("K6 Load Test Book %d", id),
		Author:        fmt.Sprintf("K6 Author %d", id),
		PublishedDate: "2024-01-01",
		Genre:         "Fiction",
	}
}

// Payload returns the JSON body for NewBook(id, updated).
func Payload(id int, updated bool) []byte {
	// Marshalling a struct of strings cannot fail.
	data, _ := json.Marshal(NewBook(id, updated))
	return data
}

// Headers returns the headers sent with requests that carry a body.
func Headers() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return h
}

// Step is one request of the CRUD sequence.
type Step struct {
	// Check is the label recorded for this step.
	Check string

	Method string
	URL    string

	// Body is nil for GET and DELETE.
	Body []byte
}

// HasBody reports whether the step sends a payload.
func (s Step) HasBody() bool {
	return s.Body != nil
}

// Sequence returns the create, read, update and delete steps for one
// virtual user, in the order they must run.
func Sequence(baseURL string, id int) []Step {
	base := strings.TrimRight(baseURL, "/")
	item := fmt.Sprintf("%s/books/%d", base, id)

	return []Step{
		{
			Check:  CheckCreate,
			Method: http.MethodPost,
			URL:    fmt.Sprintf("%s/books/?book_id=%d", base, id),
			Body:   Payload(id, false),
		},
		{
			Check:  CheckRead,
			Method: http.MethodGet,
			URL:    item,
		},
		{
			Check:  CheckUpdate,
			Method: http.MethodPut,
			URL:    item,
			Body:   Payload(id, true),
		},
		{
			Check:  CheckDelete,
			Method: http.MethodDelete,
			URL:    item,
		},
	}
}

// CollectionURL is the listing endpoint, used to probe that the target is up.
func CollectionURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/books/"
}
