// Command client is a terminal client for the relay. It sends every line
// read from stdin and prints everything the relay sends back.
//
//	client -addr localhost:7711
//	client -ws ws://localhost:8080/ws
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "localhost:7711", "relay TCP address")
	wsURL := flag.String("ws", "", "WebSocket gateway URL; overrides -addr")
	origin := flag.String("origin", "http://localhost:8080", "Origin header sent to the gateway")
	flag.Parse()

	var err error
	if *wsURL != "" {
		err = runWebSocket(*wsURL, *origin, os.Stdin, os.Stdout)
	} else {
		err = runTCP(*addr, os.Stdin, os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
}

func runWebSocket(url, origin string, in io.Reader, out io.Writer) error {
	header := http.Header{}
	header.Set("Origin", origin)
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer ws.Close()

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if err := ws.WriteMessage(websocket.TextMessage, append(scanner.Bytes(), '\n')); err != nil {
				return
			}
		}
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if _, err := out.Write(msg); err != nil {
			return err
		}
	}
}
