package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamscao/certregistry/internal/auth"
	"github.com/adamscao/certregistry/internal/config"
	"github.com/adamscao/certregistry/internal/db"
	"github.com/adamscao/certregistry/internal/db/repository"
	"github.com/adamscao/certregistry/internal/models"
	"github.com/adamscao/certregistry/internal/registry"
	"github.com/adamscao/certregistry/pkg/ethaddr"
)

var (
	configPath string
	cfg        *config.Config
	database   *db.DB
)

var rootCmd = &cobra.Command{
	Use:          "admin",
	Short:        "Certificate registry administration tool",
	Long:         "Administrative tool for the certificate registry: offline minting, lookups, caller accounts and audit logs",
	SilenceUsage: true,
}

var mintCmd = &cobra.Command{
	Use:   "mint <to> <token-uri> <holder-name> <credential-id> <title> <issuing-body> <issued-at> <completed-at> <hours>",
	Short: "Mint a certificate from positional fields",
	Long: "Mint a certificate directly against the database. Run it only while the server is stopped;\n" +
		"a running server does not see certificates minted here until it restarts.",
	Args: cobra.ExactArgs(9),
	RunE: mintCertificate,
}

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Inspect certificates",
}

var certShowCmd = &cobra.Command{
	Use:   "show <token-id>",
	Short: "Show one certificate",
	Args:  cobra.ExactArgs(1),
	RunE:  showCertificate,
}

var certListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the certificates of an owner",
	RunE:  listCertificates,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the creation event log",
	RunE:  listEvents,
}

var callerCmd = &cobra.Command{
	Use:   "caller",
	Short: "Manage caller accounts",
}

var callerCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a caller account and print its token",
	RunE:  createCaller,
}

var callerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all caller accounts",
	RunE:  listCallers,
}

var callerEnableCmd = &cobra.Command{
	Use:   "enable <address>",
	Short: "Enable a caller account",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setCallerEnabled(args[0], true) },
}

var callerDisableCmd = &cobra.Command{
	Use:   "disable <address>",
	Short: "Disable a caller account",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setCallerEnabled(args[0], false) },
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and prune the audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries, newest first",
	RunE:  listAudit,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit log entries older than a given age",
	RunE:  pruneAudit,
}

var (
	mintAs       string
	ownerFilter  string
	eventsAfter  uint64
	eventsLimit  int
	callerAddr   string
	generateTOTP bool
	disabled     bool
	auditCaller  string
	auditAction  string
	auditLimit   int
	olderThan    string
)

func init() {
	// Root flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/certregistry/config.yaml", "Config file path")

	mintCmd.Flags().StringVar(&mintAs, "as", "", "Caller address (defaults to the configured issuer)")

	certListCmd.Flags().StringVar(&ownerFilter, "owner", "", "Owner address (required)")
	certListCmd.MarkFlagRequired("owner")

	eventsCmd.Flags().Uint64Var(&eventsAfter, "after", 0, "Only events with a sequence number above this")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 0, "Maximum number of events (0 = all)")

	callerCreateCmd.Flags().StringVarP(&callerAddr, "address", "a", "", "Caller address (required)")
	callerCreateCmd.Flags().BoolVar(&generateTOTP, "generate-totp", false, "Require a TOTP code from this caller")
	callerCreateCmd.Flags().BoolVar(&disabled, "disabled", false, "Create the account disabled")
	callerCreateCmd.MarkFlagRequired("address")

	auditListCmd.Flags().StringVar(&auditCaller, "caller", "", "Filter by caller address")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum number of entries")

	auditPruneCmd.Flags().StringVar(&olderThan, "older-than", "90d", "Age of entries to delete (e.g. 90d, 720h)")

	// Add commands
	certCmd.AddCommand(certShowCmd, certListCmd)
	callerCmd.AddCommand(callerCreateCmd, callerListCmd, callerEnableCmd, callerDisableCmd)
	auditCmd.AddCommand(auditListCmd, auditPruneCmd)
	rootCmd.AddCommand(mintCmd, certCmd, eventsCmd, callerCmd, auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initDB() error {
	// Load configuration
	var err error
	cfg, err = config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Connect to database
	database, err = db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func openRegistry(ctx context.Context) (*registry.Registry, error) {
	params, err := cfg.RegistryParams()
	if err != nil {
		return nil, err
	}
	return registry.Open(ctx, params, repository.NewCertRepository(database.DB))
}

// mintArgs is the decoded positional argument list of the mint command
type mintArgs struct {
	to                                           ethaddr.Address
	tokenURI                                     string
	holderName, credentialID, title, issuingBody string
	issuedAt, completedAt                        int64
	hours                                        uint32
}

func parseMintArgs(args []string) (*mintArgs, error) {
	if len(args) != 9 {
		return nil, fmt.Errorf("expected 9 arguments, got %d", len(args))
	}

	to, err := ethaddr.Parse(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid owner address: %w", err)
	}

	issuedAt, err := strconv.ParseInt(args[6], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid issued-at %q: must be unix seconds", args[6])
	}
	completedAt, err := strconv.ParseInt(args[7], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid completed-at %q: must be unix seconds", args[7])
	}
	hours, err := strconv.ParseUint(args[8], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid hours %q", args[8])
	}

	return &mintArgs{
		to:           to,
		tokenURI:     args[1],
		holderName:   args[2],
		credentialID: args[3],
		title:        args[4],
		issuingBody:  args[5],
		issuedAt:     issuedAt,
		completedAt:  completedAt,
		hours:        uint32(hours),
	}, nil
}

func mintCertificate(cmd *cobra.Command, args []string) error {
	m, err := parseMintArgs(args)
	if err != nil {
		return err
	}

	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	reg, err := openRegistry(ctx)
	if err != nil {
		return err
	}

	caller := reg.Issuer()
	if mintAs != "" {
		if caller, err = ethaddr.Parse(mintAs); err != nil {
			return fmt.Errorf("invalid --as address: %w", err)
		}
	}

	id, err := reg.MintPositional(ctx, caller, m.to, m.tokenURI,
		m.holderName, m.credentialID, m.title, m.issuingBody,
		m.issuedAt, m.completedAt, m.hours)
	if err != nil {
		return fmt.Errorf("mint failed: %w", err)
	}

	auditRepo := repository.NewAuditRepository(database.DB)
	if err := auditRepo.Create(&models.AuditLog{
		Action:    models.ActionCertMint,
		Caller:    caller.Hex(),
		ClientIP:  "cli",
		UserAgent: "admin",
		Success:   true,
		Details:   fmt.Sprintf(`{"token_id":%d}`, id),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write audit log: %v\n", err)
	}

	fmt.Printf("Certificate minted\n")
	fmt.Printf("Token ID: %d\n", id)
	fmt.Printf("Owner:    %s\n", m.to.Hex())

	return nil
}

func showCertificate(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token id %q", args[0])
	}

	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	reg, err := openRegistry(context.Background())
	if err != nil {
		return err
	}

	cert, err := reg.Certificate(id)
	if err != nil {
		return err
	}

	f := cert.Fields
	fmt.Printf("Token ID:      %d\n", cert.ID)
	fmt.Printf("Owner:         %s\n", cert.Owner.Hex())
	fmt.Printf("Token URI:     %s\n", cert.MetadataURI)
	fmt.Printf("Minted:        %s\n", cert.MintedAt.Format(time.RFC3339))
	fmt.Printf("Holder:        %s\n", f.HolderName)
	fmt.Printf("Credential ID: %s\n", f.CredentialID)
	fmt.Printf("Title:         %s\n", f.Title)
	fmt.Printf("Issuing body:  %s\n", f.IssuingBody)
	fmt.Printf("Issued:        %s\n", formatUnix(f.IssuedAt))
	fmt.Printf("Completed:     %s\n", formatUnix(f.CompletedAt))
	fmt.Printf("Hours:         %d\n", f.Hours)
	if f.Location != "" {
		fmt.Printf("Location:      %s\n", f.Location)
	}
	if f.DeliveryMethod != "" {
		fmt.Printf("Delivery:      %s\n", f.DeliveryMethod)
	}
	if f.FieldOfStudy != "" {
		fmt.Printf("Field:         %s\n", f.FieldOfStudy)
	}
	if f.SponsorID != "" {
		fmt.Printf("Sponsor ID:    %s\n", f.SponsorID)
	}
	if f.RegistrationNumber != "" {
		fmt.Printf("Registration:  %s\n", f.RegistrationNumber)
	}

	return nil
}

func listCertificates(cmd *cobra.Command, args []string) error {
	owner, err := ethaddr.Parse(ownerFilter)
	if err != nil {
		return fmt.Errorf("invalid owner address: %w", err)
	}

	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	reg, err := openRegistry(context.Background())
	if err != nil {
		return err
	}

	certs := reg.CertificatesByOwner(owner)
	if len(certs) == 0 {
		fmt.Println("No certificates found")
		return nil
	}

	fmt.Printf("\nOwner: %s\nBalance: %d\n\n", owner.Hex(), len(certs))
	fmt.Printf("%-6s %-8s %-20s %-20s %-6s %s\n", "Index", "Token", "Credential ID", "Holder", "Hours", "Title")
	fmt.Println("--------------------------------------------------------------------------------")

	for i, cert := range certs {
		fmt.Printf("%-6d %-8d %-20s %-20s %-6d %s\n",
			i,
			cert.ID,
			cert.Fields.CredentialID,
			cert.Fields.HolderName,
			cert.Fields.Hours,
			cert.Fields.Title,
		)
	}

	return nil
}

func listEvents(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	reg, err := openRegistry(context.Background())
	if err != nil {
		return err
	}

	events := reg.Events(eventsAfter, eventsLimit)
	if len(events) == 0 {
		fmt.Println("No events found")
		return nil
	}

	fmt.Printf("%-6s %-8s %-44s %s\n", "Seq", "Token", "To", "At")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, ev := range events {
		fmt.Printf("%-6d %-8d %-44s %s\n", ev.Seq, ev.TokenID, ev.To.Hex(), ev.At.Format(time.RFC3339))
	}

	return nil
}

func createCaller(cmd *cobra.Command, args []string) error {
	address, err := ethaddr.Parse(callerAddr)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	if address.IsZero() {
		return errors.New("caller address must not be the zero address")
	}

	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	token, err := auth.GenerateCallerToken()
	if err != nil {
		return err
	}

	caller := &models.Caller{
		Address:   address,
		TokenHash: auth.HashToken(token),
		Enabled:   !disabled,
	}

	var totpURL string
	if generateTOTP {
		caller.TOTPSecret, totpURL, err = auth.GenerateTOTPSecret(address.Hex())
		if err != nil {
			return err
		}
	}

	callerRepo := repository.NewCallerRepository(database.DB)
	if err := callerRepo.Create(caller); err != nil {
		return fmt.Errorf("failed to create caller: %w", err)
	}

	fmt.Printf("\nCaller created successfully!\n")
	fmt.Printf("Caller ID: %d\n", caller.ID)
	fmt.Printf("Address:   %s\n", caller.Address.Hex())
	fmt.Printf("Enabled:   %t\n", caller.Enabled)
	fmt.Printf("\nToken: %s\n", token)
	fmt.Printf("The token is shown only once. Send it as 'Authorization: Bearer <token>'.\n")
	if caller.TOTPSecret != "" {
		fmt.Printf("\nTOTP Secret: %s\n", caller.TOTPSecret)
		fmt.Printf("TOTP URL:    %s\n", totpURL)
	}

	return nil
}

func listCallers(cmd *cobra.Command, args []string) error {
	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	callerRepo := repository.NewCallerRepository(database.DB)
	callers, err := callerRepo.List()
	if err != nil {
		return fmt.Errorf("failed to list callers: %w", err)
	}

	if len(callers) == 0 {
		fmt.Println("No callers found")
		return nil
	}

	fmt.Printf("\nTotal callers: %d\n\n", len(callers))
	fmt.Printf("%-5s %-44s %-10s %-6s %s\n", "ID", "Address", "Enabled", "TOTP", "Created")
	fmt.Println("--------------------------------------------------------------------------------")

	for _, caller := range callers {
		fmt.Printf("%-5d %-44s %-10s %-6s %s\n",
			caller.ID,
			caller.Address.Hex(),
			yesNo(caller.Enabled),
			yesNo(caller.TOTPSecret != ""),
			caller.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	return nil
}

func setCallerEnabled(addr string, enabled bool) error {
	address, err := ethaddr.Parse(addr)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	callerRepo := repository.NewCallerRepository(database.DB)
	if err := callerRepo.SetEnabled(address, enabled); err != nil {
		return err
	}

	fmt.Printf("Caller %s enabled: %t\n", address.Hex(), enabled)
	return nil
}

func listAudit(cmd *cobra.Command, args []string) error {
	if auditCaller != "" {
		address, err := ethaddr.Parse(auditCaller)
		if err != nil {
			return fmt.Errorf("invalid caller address: %w", err)
		}
		auditCaller = address.Hex()
	}

	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	auditRepo := repository.NewAuditRepository(database.DB)
	logs, err := auditRepo.List(auditCaller, auditAction, auditLimit)
	if err != nil {
		return err
	}

	if len(logs) == 0 {
		fmt.Println("No audit entries found")
		return nil
	}

	fmt.Printf("%-6s %-20s %-22s %-44s %-8s %s\n", "ID", "Time", "Action", "Caller", "Success", "Error")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, entry := range logs {
		fmt.Printf("%-6d %-20s %-22s %-44s %-8s %s\n",
			entry.ID,
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.Action,
			entry.Caller,
			yesNo(entry.Success),
			entry.ErrorMsg,
		)
	}

	return nil
}

func pruneAudit(cmd *cobra.Command, args []string) error {
	age, err := config.ParseDuration(olderThan)
	if err != nil {
		return fmt.Errorf("invalid --older-than: %w", err)
	}

	if err := initDB(); err != nil {
		return err
	}
	defer database.Close()

	auditRepo := repository.NewAuditRepository(database.DB)
	count, err := auditRepo.DeleteOld(time.Now().Add(-age))
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d audit entries older than %s\n", count, olderThan)
	return nil
}

func formatUnix(sec int64) string {
	return time.Unix(sec, 0).UTC().Format("2006-01-02")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
