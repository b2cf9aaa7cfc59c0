package loadgen

import (
	"fmt"
	"net/http"
	"time"
)

type weightedMethod struct {
	method string
	weight float64
}

var methodWeights = []weightedMethod{
	{http.MethodGet, 0.6},
	{http.MethodPost, 0.2},
	{http.MethodPut, 0.1},
	{http.MethodDelete, 0.05},
	{http.MethodPatch, 0.05},
}

// pickMethod maps r in [0,1) onto the weighted method table.
func pickMethod(r float64) string {
	var acc float64
	for _, wm := range methodWeights {
		acc += wm.weight
		if r < acc {
			return wm.method
		}
	}
	return methodWeights[len(methodWeights)-1].method
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// targetsItem reports whether the call addresses /<endpoint>/<id>.
func targetsItem(method string) bool {
	switch method {
	case http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}

// trafficFactor scales the base rate by time of day: busy during business
// hours, quieter in the evening, near idle at night. r in [0,1) picks a point
// inside the band.
func trafficFactor(t time.Time, r float64) float64 {
	lo, hi := 0.1, 0.3
	switch h := t.Hour(); {
	case h >= 9 && h <= 17:
		lo, hi = 0.8, 1.2
	case h >= 18 && h <= 22:
		lo, hi = 0.4, 0.7
	}
	return lo + r*(hi-lo)
}

type simulatedError struct {
	status  int
	message string
}

var simulatedErrors = []simulatedError{
	{http.StatusBadRequest, "Bad Request - Invalid parameters"},
	{http.StatusUnauthorized, "Unauthorized - Authentication required"},
	{http.StatusForbidden, "Forbidden - Insufficient permissions"},
	{http.StatusNotFound, "Not Found - Resource doesn't exist"},
	{http.StatusInternalServerError, "Internal Server Error - Something went wrong"},
}

// payloadFor builds a plausible request body for the resource.
func (g *Generator) payloadFor(resource string) map[string]any {
	switch resource {
	case "orders":
		return map[string]any{
			"userId":    g.intn(15) + 1,
			"productId": g.intn(3) + 1,
			"quantity":  g.intn(5) + 1,
			"date":      g.now().Format(time.DateOnly),
			"processed": false,
		}
	case "users":
		n := g.intn(900) + 100
		return map[string]any{
			"name":   fmt.Sprintf("User%d", n),
			"email":  fmt.Sprintf("user%d@example.com", g.intn(900)+100),
			"active": g.intn(2) == 1,
		}
	case "products":
		return map[string]any{
			"name":    fmt.Sprintf("Product%d", g.intn(900)+100),
			"price":   float64(1000+g.intn(9001)) / 100,
			"inStock": g.intn(2) == 1,
		}
	case "analytics":
		periods := []string{"daily", "weekly", "monthly"}
		metrics := []string{"sales", "views", "conversions"}
		return map[string]any{
			"period": periods[g.intn(len(periods))],
			"metric": metrics[g.intn(len(metrics))],
		}
	default:
		return map[string]any{}
	}
}
