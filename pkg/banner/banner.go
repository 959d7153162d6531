package banner

import (
	"fmt"
)

const banner = `
 █████╗ ███████╗████████╗██████╗  ██████╗ ██╗     ██╗███╗   ██╗██╗  ██╗
██╔══██╗██╔════╝╚══██╔══╝██╔══██╗██╔═══██╗██║     ██║████╗  ██║██║ ██╔╝
███████║███████╗   ██║   ██████╔╝██║   ██║██║     ██║██╔██╗ ██║█████╔╝
██╔══██║╚════██║   ██║   ██╔══██╗██║   ██║██║     ██║██║╚██╗██║██╔═██╗
██║  ██║███████║   ██║   ██║  ██║╚██████╔╝███████╗██║██║ ╚████║██║  ██╗
╚═╝  ╚═╝╚══════╝   ╚═╝   ╚═╝  ╚═╝ ╚═════╝ ╚══════╝╚═╝╚═╝  ╚═══╝╚═╝  ╚═╝
`

// Print writes the startup banner with the effective runtime values.
func Print(addr, apiBase, dbPath, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Agent:    %s\n", addr)
	fmt.Printf("Backend:  %s\n", apiBase)
	fmt.Printf("Cache:    %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /healthz - agent liveness")
	fmt.Println("GET  /status - identity, realtime state, cache stats")
	fmt.Println("GET  /v1/bookings - list the astrologer's bookings")
	fmt.Println("GET  /v1/chats/{chatId}/messages?limit=<n> - cached transcript")
	fmt.Println("POST /v1/send - {bookingId|chatId, text} deliver a message")
	fmt.Println("GET  /metrics - prometheus metrics")
}
