// Package docs holds the OpenAPI annotations for the qrstitch server.
//
// qrstitch API
//
//	@title			qrstitch API
//	@version		1.0
//	@description	Scan control, camera settings and payload inbox for QR sequence reassembly.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/qrstitch
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http
package docs

//go:generate swag init -g ../cmd/qrstitch/serve.go -o ./swagger --parseDependency --parseInternal
