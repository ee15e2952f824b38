package api

import "github.com/gin-gonic/gin"

// Problem is the Problem-Details error body mandated by §4.9/§6.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance"`
	RequestID string `json:"requestId"`
}

func writeProblem(c *gin.Context, status int, problemType, detail string) {
	c.JSON(status, Problem{
		Type:      problemType,
		Title:     problemType,
		Status:    status,
		Detail:    detail,
		Instance:  c.Request.URL.Path,
		RequestID: c.GetHeader("X-Request-Id"),
	})
}
