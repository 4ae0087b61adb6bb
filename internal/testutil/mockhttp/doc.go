// Package mockhttp builds stub gateway servers for client tests.
//
// Handlers run in registration order; the first one that writes a response
// wins. Unmatched requests get the default status (404).
//
//	capture := &mockhttp.Capture{}
//	server := mockhttp.New().
//		Record(capture).
//		RequirePoP().
//		JSON(http.MethodPost, "/rotate-token", map[string]string{"access_token": tok}).
//		Detail(http.MethodGet, "/protected", http.StatusForbidden, "PoP verification failed").
//		Build()
//	defer server.Close()
//
//	req := capture.Last()
//	sig := req.Headers.Get("X-Pop-Signature")
package mockhttp
