package access

// Permission tags grouping the trading endpoints.
const (
	PermAccountManagement   = "mt5_account_management"
	PermAccountView         = "mt5_account_view"
	PermAuth                = "mt5_auth"
	PermFinancialOperations = "mt5_financial_operations"
	PermTradingManagement   = "mt5_trading_management"
)

// SeedRules returns the fixed startup catalog. It is loaded once at process
// start where absent from storage and never auto-deleted; admins toggle the
// Active gate at runtime.
func SeedRules() []PermissionRule {
	return []PermissionRule{
		{
			Name:        "mt5_create_account",
			Path:        "/api/mt5/accounts",
			Permission:  PermAccountManagement,
			Description: "Create new trading account",
			Active:      true,
		},
		{
			Name:        "mt5_get_accounts",
			Path:        "/api/mt5/accounts/my-accounts",
			Permission:  PermAccountView,
			Description: "List the caller's trading accounts",
			Active:      true,
		},
		{
			Name:        "mt5_get_account_info",
			Path:        "/api/mt5/accounts/{login}",
			Permission:  PermAccountView,
			Description: "Get trading account information",
			Active:      true,
		},
		{
			Name:        "mt5_send_otp",
			Path:        "/api/mt5/auth/send-otp",
			Permission:  PermAuth,
			Description: "Send OTP verification code",
			Active:      true,
		},
		{
			Name:        "mt5_change_password",
			Path:        "/api/mt5/accounts/change-password/{login}",
			Permission:  PermAccountManagement,
			Description: "Change trading account password",
			Active:      true,
		},
		{
			Name:        "mt5_check_password",
			Path:        "/api/mt5/accounts/check-password/{login}",
			Permission:  PermAuth,
			Description: "Verify trading account password",
			Active:      true,
		},
		{
			Name:        "mt5_update_rights",
			Path:        "/api/mt5/accounts/update-rights/{login}",
			Permission:  PermAccountManagement,
			Description: "Update trading account rights",
			Active:      true,
		},
		{
			Name:        "mt5_deposit",
			Path:        "/api/mt5/accounts/{login}/deposit",
			Permission:  PermFinancialOperations,
			Description: "Deposit funds to trading account",
			Active:      true,
		},
		{
			Name:        "mt5_withdraw",
			Path:        "/api/mt5/accounts/{login}/withdraw",
			Permission:  PermFinancialOperations,
			Description: "Withdraw funds from trading account",
			Active:      true,
		},
		{
			Name:        "mt5_transfer",
			Path:        "/api/mt5/accounts/transfer",
			Permission:  PermFinancialOperations,
			Description: "Transfer funds between trading accounts",
			Active:      true,
		},
		{
			Name:        "mt5_enable_trading",
			Path:        "/api/mt5/accounts/{login}/enable-trading",
			Permission:  PermTradingManagement,
			Description: "Enable trading for account",
			Active:      true,
		},
		{
			Name:        "mt5_disable_trading",
			Path:        "/api/mt5/accounts/{login}/disable-trading",
			Permission:  PermTradingManagement,
			Description: "Disable trading for account",
			Active:      true,
		},
	}
}
