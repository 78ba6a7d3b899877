// Fake origin backend for local gateway development. Echoes unmatched
// requests and answers the payment-creation endpoint with a canned charge.
package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
)

func main() {
	http.HandleFunc("/api/payments/create", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)

		response := map[string]interface{}{
			"payment": map[string]interface{}{
				"id":     "sq-" + uuid.NewString(),
				"status": "COMPLETED",
			},
			"intentId": req["intentId"],
			"amount":   req["amount"],
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)

		log.Printf("Charged intent %v for %v", req["intentId"], req["amount"])
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"message": "Hello from test origin!",
			"path":    r.URL.Path,
			"method":  r.Method,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)

		log.Printf("Received request: %s %s", r.Method, r.URL.Path)
	})

	log.Println("Test origin starting on port 9000")
	http.ListenAndServe(":9000", nil)
}
