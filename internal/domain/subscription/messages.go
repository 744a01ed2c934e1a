package subscription

// User-facing messages. Callers render them directly.
const (
	MsgInvalidRequest          = "Dados inválidos. Verifique os campos e tente novamente."
	MsgManagerNotFound         = "Gestor não encontrado"
	MsgNotManager              = "Apenas gestores podem gerenciar operadores"
	MsgProfileNotFound         = "Perfil não encontrado"
	MsgSubscriptionInactive    = "Assinatura inativa. Reative sua assinatura para adicionar operadores."
	MsgEmailInUse              = "Email já está em uso"
	MsgCheckoutFailed          = "Não foi possível criar o pagamento do operador. Tente novamente."
	MsgCheckoutCreated         = "Pagamento do operador criado com sucesso"
	MsgPendingOperatorNotFound = "Pagamento de operador não encontrado"
	MsgOperatorAlreadyCreated  = "Operador já foi criado"
	MsgPaymentNotConfirmed     = "Pagamento ainda não foi confirmado"
	MsgPaymentStatusFailed     = "Não foi possível consultar o status do pagamento"
	MsgNoLinkedSubscription    = "Nenhuma assinatura vinculada ao gestor. Não foi possível adicionar o operador."
	MsgSubscriptionUpdateFail  = "Não foi possível atualizar o valor da assinatura. O operador não foi criado."
	MsgInviteFailed            = "Não foi possível enviar o convite para o operador"
	MsgOperatorCreateFailed    = "Não foi possível criar o operador"
	MsgOperatorCreated         = "Operador criado com sucesso"
	MsgOperatorNotFound        = "Operador não encontrado"
	MsgOperatorNotOwned        = "Operador não pertence a este gestor"
	MsgOperatorRemoved         = "Operador removido e assinatura atualizada"
	MsgOperatorRemoveFailed    = "Não foi possível remover o operador"
	MsgSubscriptionRecreateErr = "Operador removido, mas a nova assinatura não pôde ser criada. Vamos tentar novamente automaticamente."
	MsgReconciliationPending   = "A atualização da cobrança está pendente e será concluída automaticamente."
	MsgOperatorCountMismatch   = "Quantidade de operadores não confere com os operadores ativos"
	MsgReactivateFailed        = "Não foi possível reativar a assinatura"
	MsgReactivated             = "Assinatura reativada com sucesso"
	MsgCustomerFailed          = "Não foi possível registrar o cliente no sistema de pagamentos"
	MsgSubscriptionCreated     = "Assinatura criada com sucesso"
	MsgSubscriptionCreateFail  = "Não foi possível criar a assinatura"
	MsgAlreadyActive           = "Assinatura já está ativa. Faça login para continuar."
	MsgPendingPaymentReused    = "Já existe um pagamento pendente para esta assinatura"
	MsgPaymentDetailsFailed    = "Assinatura criada, mas não foi possível carregar os dados de pagamento"
	MsgOperationInProgress     = "Outra alteração de assinatura está em andamento. Tente novamente em instantes."
	MsgStatusLoaded            = "Status da assinatura carregado"
)
