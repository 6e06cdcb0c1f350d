// Command deskbridge is the thin driver wiring session/client and
// session/server to a real TCP socket and mDNS discovery, grounded on the
// teacher's cmd/lanfilesharer/main.go's cobra command shape (spec.md §1
// places a CLI entry point outside this module's core scope, but every
// [MODULE] still needs a caller to be exercised end to end).
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/deskbridge/deskbridge/pkg/config"
	"github.com/deskbridge/deskbridge/pkg/dispatch"
	"github.com/deskbridge/deskbridge/pkg/discovery"
	"github.com/deskbridge/deskbridge/pkg/netmux"
	"github.com/deskbridge/deskbridge/pkg/screen"
	"github.com/deskbridge/deskbridge/pkg/session/client"
	"github.com/deskbridge/deskbridge/pkg/session/server"
	"github.com/deskbridge/deskbridge/pkg/transport"
	"github.com/deskbridge/deskbridge/pkg/transport/tcptls"
	dbwebrtc "github.com/deskbridge/deskbridge/pkg/transport/webrtc"
	"github.com/deskbridge/deskbridge/pkg/wire"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:   "deskbridge",
		Short: "Share one keyboard, mouse, and clipboard across networked screens",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newConnectCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var (
		port          int
		screenName    string
		width, height int
		receiveDir    string
		advertise     bool
		insecure      bool
		webrtcAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept incoming screens and route input to the active one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.New(config.WithReceiveDir(receiveDir))
			if err := cfg.Validate(); err != nil {
				return err
			}

			d := dispatch.New()
			go d.Run()
			defer d.Stop()

			ls := screen.NewLocal(screen.Rect{Width: int32(width), Height: int32(height)})

			listener := server.New(d, ls,
				wire.Version{Major: 1, Minor: 6},
				cfg.MinVersion,
				cfg.HandshakeTimeout,
				cfg.KeepaliveMissThreshold,
				func(p *server.ClientProxy) {
					slog.Info("client connected", "name", p.Name())
					p.Enter(0, 0, 0, 0)
				},
				func(name string) {
					slog.Info("client disconnected", "name", name)
				},
				func(clientName string, data []byte) {
					if cfg.ReceiveDir == "" {
						slog.Info("file received, discarding (no --receive-dir)", "client", clientName, "bytes", len(data))
						return
					}
					dest := filepath.Join(cfg.ReceiveDir, fmt.Sprintf("%s-%d.bin", clientName, time.Now().UnixNano()))
					if err := os.WriteFile(dest, data, 0o644); err != nil {
						slog.Warn("write received file", "client", clientName, "error", err)
						return
					}
					slog.Info("file received", "client", clientName, "path", dest)
				},
			)

			var tlsConfig *tls.Config
			if !insecure {
				cert, err := selfSignedCert()
				if err != nil {
					return fmt.Errorf("generate TLS certificate: %w", err)
				}
				tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
			}

			addr := fmt.Sprintf(":%d", port)
			ln, err := tcptls.Listen(addr, tlsConfig)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			defer ln.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if advertise {
				go func() {
					if err := discovery.Advertise(ctx, screenName, port); err != nil && ctx.Err() == nil {
						slog.Warn("mDNS advertise stopped", "error", err)
					}
				}()
			}

			mux := netmux.New(50 * time.Millisecond)
			mux.Start()
			defer mux.Stop()

			sock := transport.NewListenerSocket(ln)
			transport.ServeAccept(mux, sock,
				func(s transport.SecureStream) { listener.Accept(acceptStream(s)) },
				func(err error) {
					if ctx.Err() == nil {
						slog.Warn("listener socket closed", "error", err)
					}
				},
			)
			go func() { <-ctx.Done(); sock.Close() }()

			var webrtcSrv *http.Server
			if webrtcAddr != "" {
				webrtcSrv = &http.Server{Addr: webrtcAddr, Handler: newWebRTCSignalingHandler(func(s *dbwebrtc.Stream) {
					listener.Accept(transport.NewBlockingStream(s))
				})}
				go func() {
					if err := webrtcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						slog.Warn("webrtc signaling server stopped", "error", err)
					}
				}()
				go func() { <-ctx.Done(); webrtcSrv.Close() }()
				slog.Info("webrtc signaling listening", "addr", webrtcAddr)
			}

			slog.Info("serving", "addr", addr, "screen", screenName)
			<-ctx.Done()
			slog.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 24800, "TCP port to listen on")
	cmd.Flags().StringVar(&screenName, "name", "server", "this screen's name, advertised over mDNS")
	cmd.Flags().IntVar(&width, "width", 1920, "local screen width in pixels")
	cmd.Flags().IntVar(&height, "height", 1080, "local screen height in pixels")
	cmd.Flags().StringVar(&receiveDir, "receive-dir", "", "directory to write incoming file transfers into")
	cmd.Flags().BoolVar(&advertise, "advertise", true, "advertise this server over mDNS")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "accept plain TCP instead of TLS")
	cmd.Flags().StringVar(&webrtcAddr, "webrtc-addr", "", "also accept WebRTC offers via HTTP signaling on this address (disabled if empty)")

	return cmd
}

func newConnectCmd() *cobra.Command {
	var (
		addr          string
		screenName    string
		width, height int
		minMinor      int
		insecure      bool
		transportKind string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect this screen to a server and receive routed input",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.New(config.WithMinVersion(wire.Version{Major: 1, Minor: int16(minMinor)}))

			d := dispatch.New()
			go d.Run()
			defer d.Stop()

			ls := screen.NewLocal(screen.Rect{Width: int32(width), Height: int32(height)})

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var dial client.Dialer
			switch transportKind {
			case "webrtc":
				dial = func(target string) (client.Stream, error) { return dialWebRTC(ctx, target) }
			default:
				var tlsConfig *tls.Config
				if !insecure {
					tlsConfig = &tls.Config{InsecureSkipVerify: true}
				}
				dial = func(target string) (client.Stream, error) {
					stream, err := tcptls.Dial(target, tlsConfig)
					if err != nil {
						return nil, err
					}
					return stream.Conn(), nil
				}
			}

			c := client.New(screenName, cfg.MinVersion, d, ls, dial, cfg.ConnectTimeout)
			c.SetRestartable(true)

			connected := make(chan struct{}, 1)
			d.AddHandler(client.EventConnected, c.Target(), func(dispatch.Event) {
				slog.Info("connected", "server", addr)
				select {
				case connected <- struct{}{}:
				default:
				}
			})
			d.AddHandler(client.EventDisconnected, c.Target(), func(e dispatch.Event) {
				cf := e.Data.(client.ConnectionFailed)
				slog.Warn("disconnected", "reason", cf.Message, "retry", cf.Retry)
			})

			c.Connect(addr)

			<-ctx.Done()
			c.SetRestartable(false)
			c.Close()
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server address as host:port (or signaling URL for --transport webrtc)")
	cmd.Flags().StringVar(&screenName, "name", "laptop", "this screen's name, sent during the handshake")
	cmd.Flags().IntVar(&width, "width", 1920, "local screen width in pixels")
	cmd.Flags().IntVar(&height, "height", 1080, "local screen height in pixels")
	cmd.Flags().IntVar(&minMinor, "min-minor", 4, "minimum accepted protocol minor version (major is always 1)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "dial plain TCP instead of TLS (the server's TLS certificate is never verified)")
	cmd.Flags().StringVar(&transportKind, "transport", "tcp", `transport to dial with: "tcp" or "webrtc"`)
	cmd.MarkFlagRequired("addr")

	return cmd
}

// acceptStream unwraps a tcptls-backed SecureStream to its underlying
// net.Conn (which already satisfies server.Stream's blocking contract
// directly), falling back to transport.BlockingStream's polling adapter
// for any other SecureStream implementation (transport/webrtc).
func acceptStream(s transport.SecureStream) server.Stream {
	if u, ok := s.(*tcptls.Stream); ok {
		return u.Conn()
	}
	return transport.NewBlockingStream(s)
}

// dialWebRTC establishes an outbound WebRTC data-channel connection to the
// HTTP signaling server at signalURL, grounded on transport/webrtc's
// HTTPSignaler (spec.md §6's Transport capability has no preferred
// implementation; WebRTC is the NAT-traversing alternative to tcptls).
// Trickled ICE candidates arriving after the initial answer are accepted
// client-side but, symmetrically with this package's own in-process test,
// the server side does not expose trickling back — fine for a LAN/mDNS
// candidate set that is usually already complete in the initial SDP.
func dialWebRTC(ctx context.Context, signalURL string) (client.Stream, error) {
	api := dbwebrtc.NewAPI()
	sig := dbwebrtc.NewHTTPSignaler(ctx, http.DefaultClient, signalURL, func(webrtc.ICECandidateInit) error { return nil })

	stream, err := dbwebrtc.Dial(ctx, api, dbwebrtc.Config{}, sig)
	if err != nil {
		return nil, fmt.Errorf("webrtc dial: %w", err)
	}
	if err := stream.WaitOpen(ctx); err != nil {
		stream.Close()
		return nil, fmt.Errorf("webrtc wait open: %w", err)
	}
	return transport.NewBlockingStream(stream), nil
}

// newWebRTCSignalingHandler serves the answering side of HTTPSignaler's
// offer/answer exchange: POST /offer carries the caller's SDP offer, the
// response is a one-shot SSE stream carrying the answer, and onStream is
// called once the resulting data channel opens.
func newWebRTCSignalingHandler(onStream func(*dbwebrtc.Stream)) http.Handler {
	api := dbwebrtc.NewAPI()

	mux := http.NewServeMux()
	mux.HandleFunc("/offer", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Offer webrtc.SessionDescription `json:"offer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		answer, streamCh, err := dbwebrtc.Accept(r.Context(), api, dbwebrtc.Config{}, body.Offer)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		payload, err := json.Marshal(struct {
			Answer webrtc.SessionDescription `json:"answer"`
		}{Answer: *answer})
		if err != nil {
			slog.Warn("webrtc signaling: marshal answer", "error", err)
			return
		}
		fmt.Fprintf(w, "event: answer\ndata: %s\n\n", payload)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		select {
		case stream := <-streamCh:
			onStream(stream)
		case <-r.Context().Done():
		}
	})
	return mux
}

// selfSignedCert produces an ephemeral RSA certificate for the serve
// command's default TLS listener, mirroring the lan-only trust model a
// session is meant to run under: peers that skip verification (as connect
// does by default) authenticate by knowing the address, not a CA chain.
func selfSignedCert() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "deskbridge"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * 365 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
